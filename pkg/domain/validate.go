package domain

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Report is the outcome of Validate. OK is true when Errors is empty;
// warnings never make a model invalid.
type Report struct {
	OK       bool     `json:"ok"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Err joins the report's errors, or returns nil when the model is valid.
func (r Report) Err() error {
	if r.OK {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = errors.New(e)
	}
	return fmt.Errorf("domain: invalid model: %w", errors.Join(errs...))
}

// Validate checks the model's internal consistency.
//
// Errors: duplicate entity ids, duplicate attribute names, primary keys that
// name missing attributes, entities with neither a primary key nor a unique
// attribute, relations to unknown entities.
//
// Warnings: cardinalities, attribute types or invariant types outside their
// closed sets, and invariant expressions whose first token is not an entity
// id or a forall/exists quantifier.
func Validate(m *Model) Report {
	var errs, warns []string

	ids := make(map[string]bool, len(m.Entities))
	for i, e := range m.Entities {
		if e.ID == "" {
			errs = append(errs, fmt.Sprintf("entity at index %d: missing id", i))
		} else if ids[e.ID] {
			errs = append(errs, fmt.Sprintf("entity %q: duplicate entity id", e.ID))
		}
		ids[e.ID] = true

		names := make(map[string]bool, len(e.Attributes))
		hasUnique := false
		for _, a := range e.Attributes {
			if names[a.Name] {
				errs = append(errs, fmt.Sprintf("entity %q: duplicate attribute name %q", e.ID, a.Name))
			}
			names[a.Name] = true
			hasUnique = hasUnique || a.IsUnique()
			if !slices.Contains(AttributeTypes, a.Type) {
				warns = append(warns, fmt.Sprintf("entity %q: attribute %q has unknown type %q", e.ID, a.Name, a.Type))
			}
		}
		for _, key := range e.PrimaryKey {
			if !names[key] {
				errs = append(errs, fmt.Sprintf("entity %q: primary key references non-existent attribute %q", e.ID, key))
			}
		}
		if len(e.PrimaryKey) == 0 && !hasUnique {
			errs = append(errs, fmt.Sprintf("entity %q: must have either a primaryKey or at least one unique attribute", e.ID))
		}
	}

	for _, r := range m.Relations {
		for _, end := range []string{r.From.EntityID, r.To.EntityID} {
			if !ids[end] {
				errs = append(errs, fmt.Sprintf("relation %q: references non-existent entity %q", r.ID, end))
			}
		}
		for _, c := range []string{r.Cardinality.From, r.Cardinality.To} {
			if !slices.Contains(Cardinalities, c) {
				warns = append(warns, fmt.Sprintf("relation %q: invalid cardinality %q", r.ID, c))
			}
		}
	}

	for _, inv := range m.Invariants {
		if !slices.Contains(InvariantTypes, inv.Type) {
			warns = append(warns, fmt.Sprintf("invariant %q: unknown type %q", inv.ID, inv.Type))
		}
		fields := strings.Fields(inv.Expression)
		if len(fields) == 0 {
			continue
		}
		scope := fields[0]
		if !ids[scope] && !strings.HasPrefix(scope, "forall") && !strings.HasPrefix(scope, "exists") {
			warns = append(warns, fmt.Sprintf("invariant %q: expression may reference unknown entities", inv.ID))
		}
	}

	return Report{OK: len(errs) == 0, Errors: errs, Warnings: warns}
}

// ── strict schema ───────────────────────────────────────────────────────────

var schema = newSchemaValidator()

func newSchemaValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// CheckSchema enforces the generator's strict schema: required fields present
// and every enum value inside its closed set. Unlike Validate it fails on
// unknown attribute, cardinality and invariant types.
func CheckSchema(m *Model) error {
	err := schema.Struct(m)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("domain: schema: %w", err)
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		path := strings.TrimPrefix(fe.Namespace(), "Model.")
		switch fe.Tag() {
		case "required":
			errs = append(errs, fmt.Errorf("%s is required", path))
		case "oneof":
			errs = append(errs, fmt.Errorf("%s: %q is not one of [%s]", path, fe.Value(), fe.Param()))
		default:
			errs = append(errs, fmt.Errorf("%s failed %s", path, fe.Tag()))
		}
	}
	return fmt.Errorf("domain: schema: %w", errors.Join(errs...))
}
