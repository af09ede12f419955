// Package hospitals administers hospitals and their per-hospital form
// variables.
package hospitals

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/greenhospital/reporting/internal/app/apperr"
	"github.com/greenhospital/reporting/internal/app/domain/hospital"
	"github.com/greenhospital/reporting/internal/app/domain/metric"
	"github.com/greenhospital/reporting/internal/app/domain/variable"
	"github.com/greenhospital/reporting/internal/app/storage"
	"github.com/greenhospital/reporting/internal/auth"
	"github.com/greenhospital/reporting/pkg/logger"
)

var variableKey = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Service manages hospitals.
type Service struct {
	hospitals storage.HospitalStore
	variables storage.VariableStore
	catalog   metric.Catalog
	log       *logger.Logger
}

// New creates a hospital service.
func New(hospitals storage.HospitalStore, variables storage.VariableStore, catalog metric.Catalog, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("hospitals")
	}
	if len(catalog) == 0 {
		catalog = metric.Default()
	}
	return &Service{hospitals: hospitals, variables: variables, catalog: catalog, log: log}
}

func requireAdmin(caller auth.Principal) error {
	if !caller.IsAdmin() {
		return apperr.Forbidden("admin role required")
	}
	return nil
}

// List returns every hospital for admins and the caller's own hospital
// otherwise.
func (s *Service) List(ctx context.Context, caller auth.Principal) ([]hospital.Hospital, error) {
	if !caller.IsAdmin() {
		if caller.HospitalID == "" {
			return []hospital.Hospital{}, nil
		}
		h, err := s.hospitals.GetHospital(ctx, caller.HospitalID)
		if err != nil {
			return nil, err
		}
		return []hospital.Hospital{h}, nil
	}
	return s.hospitals.ListHospitals(ctx)
}

// Get returns one hospital the caller may see.
func (s *Service) Get(ctx context.Context, caller auth.Principal, id string) (hospital.Hospital, error) {
	if !caller.CanAccessHospital(id) {
		return hospital.Hospital{}, apperr.Forbidden("no access to hospital %s", id)
	}
	return s.hospitals.GetHospital(ctx, id)
}

func normalize(h hospital.Hospital) (hospital.Hospital, error) {
	h.ID = strings.TrimSpace(h.ID)
	h.Name = strings.TrimSpace(h.Name)
	h.Location = strings.TrimSpace(h.Location)
	if h.Name == "" {
		return h, apperr.Invalid("name is required")
	}
	return h, nil
}

// Create adds a hospital. The id is generated when empty.
func (s *Service) Create(ctx context.Context, caller auth.Principal, h hospital.Hospital) (hospital.Hospital, error) {
	if err := requireAdmin(caller); err != nil {
		return hospital.Hospital{}, err
	}
	h, err := normalize(h)
	if err != nil {
		return hospital.Hospital{}, err
	}
	created, err := s.hospitals.CreateHospital(ctx, h)
	if err != nil {
		return hospital.Hospital{}, fmt.Errorf("create hospital: %w", err)
	}
	s.log.WithField("hospital_id", created.ID).WithField("user_id", caller.UserID).Info("hospital created")
	return created, nil
}

// Update replaces a hospital's name and location.
func (s *Service) Update(ctx context.Context, caller auth.Principal, h hospital.Hospital) (hospital.Hospital, error) {
	if err := requireAdmin(caller); err != nil {
		return hospital.Hospital{}, err
	}
	h, err := normalize(h)
	if err != nil {
		return hospital.Hospital{}, err
	}
	updated, err := s.hospitals.UpdateHospital(ctx, h)
	if err != nil {
		return hospital.Hospital{}, fmt.Errorf("update hospital: %w", err)
	}
	s.log.WithField("hospital_id", updated.ID).WithField("user_id", caller.UserID).Info("hospital updated")
	return updated, nil
}

// Delete removes a hospital.
func (s *Service) Delete(ctx context.Context, caller auth.Principal, id string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	if err := s.hospitals.DeleteHospital(ctx, id); err != nil {
		return fmt.Errorf("delete hospital: %w", err)
	}
	s.log.WithField("hospital_id", id).WithField("user_id", caller.UserID).Info("hospital deleted")
	return nil
}

// Variables lists a hospital's extra form fields.
func (s *Service) Variables(ctx context.Context, caller auth.Principal, hospitalID string) ([]variable.Variable, error) {
	if !caller.CanAccessHospital(hospitalID) {
		return nil, apperr.Forbidden("no access to hospital %s", hospitalID)
	}
	if _, err := s.hospitals.GetHospital(ctx, hospitalID); err != nil {
		return nil, err
	}
	return s.variables.ListVariables(ctx, hospitalID)
}

// UpsertVariables validates and stores a batch of variables for one
// hospital. Nothing is written when any variable is invalid.
func (s *Service) UpsertVariables(ctx context.Context, caller auth.Principal, hospitalID string, vars []variable.Variable) ([]variable.Variable, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if _, err := s.hospitals.GetHospital(ctx, hospitalID); err != nil {
		return nil, err
	}

	verr := &apperr.ValidationError{}
	seen := make(map[string]bool, len(vars))
	for i := range vars {
		v := &vars[i]
		v.HospitalID = hospitalID
		v.Key = strings.TrimSpace(v.Key)
		v.Label = strings.TrimSpace(v.Label)
		field := fmt.Sprintf("variables[%d]", i)
		switch {
		case !variableKey.MatchString(v.Key):
			verr.Add(field, "key must be lower_snake_case")
		case seen[v.Key]:
			verr.Add(field, "duplicate key "+v.Key)
		default:
			if _, clash := s.catalog.Lookup(v.Key); clash {
				verr.Add(field, "key "+v.Key+" is a built-in metric")
			}
		}
		seen[v.Key] = true
		if v.Label == "" {
			v.Label = v.Key
		}
		if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
			verr.Add(field, "min is greater than max")
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	out := make([]variable.Variable, 0, len(vars))
	for _, v := range vars {
		saved, err := s.variables.UpsertVariable(ctx, v)
		if err != nil {
			return out, fmt.Errorf("save variable %s: %w", v.Key, err)
		}
		out = append(out, saved)
	}
	s.log.WithField("hospital_id", hospitalID).WithField("count", len(out)).Info("hospital variables saved")
	return out, nil
}

// DeleteVariable removes one variable.
func (s *Service) DeleteVariable(ctx context.Context, caller auth.Principal, hospitalID, key string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	if err := s.variables.DeleteVariable(ctx, hospitalID, key); err != nil {
		return fmt.Errorf("delete variable: %w", err)
	}
	s.log.WithField("hospital_id", hospitalID).WithField("key", key).Info("hospital variable deleted")
	return nil
}
