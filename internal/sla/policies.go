package sla

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

type policyDB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Policy represents an SLA policy for one product and priority.
type Policy struct {
	ID                   string `json:"id"`
	ProductID            string `json:"product_id" binding:"required"`
	Priority             int    `json:"priority" binding:"min=1,max=4"`
	ResponseTargetMins   int    `json:"response_target_mins" binding:"min=0"`
	ResolutionTargetMins int    `json:"resolution_target_mins" binding:"min=0"`
	BusinessHoursOnly    bool   `json:"business_hours_only"`
	Active               bool   `json:"is_active"`
}

// PolicyResolver selects the active policy for a product and priority.
type PolicyResolver interface {
	Resolve(ctx context.Context, productID string, priority int) (Policy, error)
}

const policyCols = `id::text, product_id, priority, response_target_mins, resolution_target_mins, business_hours_only, is_active`

func scanPolicy(row pgx.Row, p *Policy) error {
	return row.Scan(&p.ID, &p.ProductID, &p.Priority, &p.ResponseTargetMins, &p.ResolutionTargetMins, &p.BusinessHoursOnly, &p.Active)
}

// ListPolicies returns all SLA policies.
func ListPolicies(ctx context.Context, db policyDB) ([]Policy, error) {
	rows, err := db.Query(ctx, `select `+policyCols+` from sla_policies order by product_id, priority`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Policy{}
	for rows.Next() {
		var p Policy
		if err := scanPolicy(rows, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DBPolicies resolves policies from the sla_policies table. The partial unique
// index on (product_id, priority) where is_active keeps the match unambiguous.
type DBPolicies struct {
	DB policyDB
}

func (d DBPolicies) Resolve(ctx context.Context, productID string, priority int) (Policy, error) {
	var p Policy
	err := scanPolicy(d.DB.QueryRow(ctx, `select `+policyCols+` from sla_policies where product_id=$1 and priority=$2 and is_active`, productID, priority), &p)
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, ErrPolicyNotFound
	}
	if err != nil {
		return Policy{}, err
	}
	return p, nil
}

// UpsertPolicy stores p as the active policy for its key, replacing the
// targets of any active policy already there.
func UpsertPolicy(ctx context.Context, db policyDB, p Policy) (Policy, error) {
	const q = `insert into sla_policies (product_id, priority, response_target_mins, resolution_target_mins, business_hours_only, is_active)
values ($1, $2, $3, $4, $5, true)
on conflict (product_id, priority) where is_active do update
set response_target_mins = excluded.response_target_mins,
    resolution_target_mins = excluded.resolution_target_mins,
    business_hours_only = excluded.business_hours_only,
    updated_at = now()
returning ` + policyCols
	var out Policy
	if err := scanPolicy(db.QueryRow(ctx, q, p.ProductID, p.Priority, p.ResponseTargetMins, p.ResolutionTargetMins, p.BusinessHoursOnly), &out); err != nil {
		return Policy{}, err
	}
	return out, nil
}

// DeactivatePolicy marks a policy inactive. Trackers already created keep
// their deadlines.
func DeactivatePolicy(ctx context.Context, db policyDB, id string) error {
	var got string
	err := db.QueryRow(ctx, `update sla_policies set is_active=false, updated_at=now() where id=$1 returning id::text`, id).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPolicyNotFound
	}
	return err
}
