package tenancy

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sandeepkv93/finance-tracker-auth/internal/observability"
)

// Owned marks models whose rows belong to a single tenant through a user_id
// column.
type Owned interface {
	OwnedByTenant()
}

const (
	ownerColumn = "user_id"
	ownerField  = "UserID"
)

var (
	ErrScopeReleased     = errors.New("tenant scope already released")
	ErrRawSQLInScope     = errors.New("raw SQL cannot be tenant-scoped")
	ErrUnscopedStatement = errors.New("statement target cannot be tenant-scoped")
	ErrCrossTenantWrite  = errors.New("write would change row ownership")
)

// Plugin installs the tenant row filter on a *gorm.DB.
type Plugin struct{}

func (Plugin) Name() string { return "tenancy:row_filter" }

func (Plugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register("tenancy:create", beforeCreate); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("tenancy:query", filterRows); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("tenancy:update", beforeUpdate); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("tenancy:delete", filterRows); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("tenancy:row", filterRows); err != nil {
		return err
	}
	return cb.Raw().Before("gorm:raw").Register("tenancy:raw", rejectRaw)
}

// scopeFor returns the active scope when the statement targets an owned
// model. Statements that cannot be constrained are failed here.
func scopeFor(db *gorm.DB) (*Scope, bool) {
	if db.Error != nil {
		return nil, false
	}
	stmt := db.Statement
	s, ok := FromContext(stmt.Context)
	if !ok {
		return nil, false
	}
	if !s.Active() {
		reject(db, ErrScopeReleased)
		return nil, false
	}
	if stmt.SQL.Len() > 0 {
		reject(db, ErrRawSQLInScope)
		return nil, false
	}
	if stmt.Schema == nil || stmt.TableExpr != nil || (stmt.Table != "" && stmt.Table != stmt.Schema.Table) {
		reject(db, ErrUnscopedStatement)
		return nil, false
	}
	if len(stmt.Joins) > 0 {
		reject(db, fmt.Errorf("%w: joins", ErrUnscopedStatement))
		return nil, false
	}
	if !isOwned(stmt) {
		return nil, false
	}
	return s, true
}

func isOwned(stmt *gorm.Statement) bool {
	if stmt.Schema == nil || stmt.Schema.LookUpField(ownerColumn) == nil {
		return false
	}
	_, ok := reflect.New(stmt.Schema.ModelType).Interface().(Owned)
	return ok
}

func filterRows(db *gorm.DB) {
	s, ok := scopeFor(db)
	if !ok {
		return
	}
	restrictWhere(db.Statement, s.tenantID)
}

func beforeCreate(db *gorm.DB) {
	s, ok := scopeFor(db)
	if !ok {
		return
	}
	// An upsert can take over an existing row of another tenant.
	if _, upsert := db.Statement.Clauses["ON CONFLICT"]; upsert {
		reject(db, ErrCrossTenantWrite)
		return
	}
	switch dest := db.Statement.Dest.(type) {
	case map[string]interface{}:
		pinOwner(dest, s.tenantID)
	case []map[string]interface{}:
		for _, m := range dest {
			pinOwner(m, s.tenantID)
		}
	default:
		db.Statement.SetColumn(ownerField, s.tenantID, true)
	}
}

func beforeUpdate(db *gorm.DB) {
	s, ok := scopeFor(db)
	if !ok {
		return
	}
	switch dest := db.Statement.Dest.(type) {
	case map[string]interface{}:
		for _, key := range []string{ownerColumn, ownerField} {
			if v, present := dest[key]; present && !sameTenant(v, s.tenantID) {
				reject(db, ErrCrossTenantWrite)
				return
			}
		}
	default:
		db.Statement.SetColumn(ownerField, s.tenantID, true)
	}
	restrictWhere(db.Statement, s.tenantID)
}

func rejectRaw(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	s, ok := FromContext(db.Statement.Context)
	if !ok {
		return
	}
	if !s.Active() {
		reject(db, ErrScopeReleased)
		return
	}
	reject(db, ErrRawSQLInScope)
}

// grouped renders its conditions inside explicit parentheses.
type grouped struct {
	exprs []clause.Expression
}

func (g grouped) Build(builder clause.Builder) {
	_ = builder.WriteByte('(')
	clause.Where{Exprs: g.exprs}.Build(builder)
	_ = builder.WriteByte(')')
}

// restrictWhere rewrites WHERE as owner AND (existing conditions). The
// existing conditions are always parenthesized, whatever whitespace or
// operators their raw SQL contains.
func restrictWhere(stmt *gorm.Statement, tenantID uint) {
	exprs := []clause.Expression{clause.Eq{
		Column: clause.Column{Table: clause.CurrentTable, Name: ownerColumn},
		Value:  tenantID,
	}}
	c, ok := stmt.Clauses["WHERE"]
	if ok {
		if where, isWhere := c.Expression.(clause.Where); isWhere && len(where.Exprs) > 0 {
			exprs = append(exprs, grouped{exprs: where.Exprs})
		}
	}
	c.Name = "WHERE"
	c.Expression = clause.Where{Exprs: exprs}
	stmt.Clauses["WHERE"] = c
}

func pinOwner(m map[string]interface{}, tenantID uint) {
	delete(m, ownerField)
	m[ownerColumn] = tenantID
}

func sameTenant(v interface{}, tenantID uint) bool {
	return fmt.Sprint(v) == strconv.FormatUint(uint64(tenantID), 10)
}

func reject(db *gorm.DB, err error) {
	observability.RecordTenantScopeEvent(db.Statement.Context, "rejected")
	_ = db.AddError(err)
}
