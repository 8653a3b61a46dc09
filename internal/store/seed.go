package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"schoolcomm/internal/domain"
)

//go:embed sample_seed.yaml
var sampleSeed []byte

// SampleSeed returns the bundled example directory.
func SampleSeed() []byte { return append([]byte(nil), sampleSeed...) }

// Seed is the YAML form of the school directory.
type Seed struct {
	Organizations []SeedOrganization `yaml:"organizations" validate:"required,min=1,dive"`
	Staff         []SeedStaff        `yaml:"staff" validate:"dive"`
	Guardians     []SeedGuardian     `yaml:"guardians" validate:"dive"`
	Students      []SeedStudent      `yaml:"students" validate:"dive"`
}

type SeedOrganization struct {
	ID   string `yaml:"id" validate:"required"`
	Name string `yaml:"name" validate:"required"`
}

type SeedStaff struct {
	ID           string `yaml:"id" validate:"required"`
	Name         string `yaml:"name"`
	Phone        string `yaml:"phone" validate:"required,e164"`
	Role         string `yaml:"role" validate:"required,oneof=teacher admin"`
	Class        string `yaml:"class" validate:"required_if=Role teacher"`
	Organization string `yaml:"organization" validate:"required"`
}

type SeedGuardian struct {
	ID           string `yaml:"id" validate:"required"`
	Name         string `yaml:"name"`
	Phone        string `yaml:"phone" validate:"required,e164"`
	Language     string `yaml:"language" validate:"omitempty,oneof=en ne"`
	Organization string `yaml:"organization" validate:"required"`
}

type SeedStudent struct {
	ID           string `yaml:"id" validate:"required"`
	Name         string `yaml:"name"`
	Class        string `yaml:"class" validate:"required"`
	Organization string `yaml:"organization" validate:"required"`
	Guardian     string `yaml:"guardian" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadSeed reads and validates a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates a YAML seed.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate checks field rules and that every reference resolves within the seed.
func (s *Seed) Validate() error {
	var errs []string
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
		}
	}

	orgs := make(map[string]bool)
	for _, o := range s.Organizations {
		orgs[o.ID] = true
	}
	guardians := make(map[string]bool)
	for _, g := range s.Guardians {
		guardians[g.ID] = true
		if !orgs[g.Organization] {
			errs = append(errs, fmt.Sprintf("guardian %s: unknown organization %q", g.ID, g.Organization))
		}
	}
	for _, st := range s.Staff {
		if !orgs[st.Organization] {
			errs = append(errs, fmt.Sprintf("staff %s: unknown organization %q", st.ID, st.Organization))
		}
	}
	for _, st := range s.Students {
		if !orgs[st.Organization] {
			errs = append(errs, fmt.Sprintf("student %s: unknown organization %q", st.ID, st.Organization))
		}
		if !guardians[st.Guardian] {
			errs = append(errs, fmt.Sprintf("student %s: unknown guardian %q", st.ID, st.Guardian))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("seed validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Entries converts the seed into directory rows.
func (s *Seed) Entries() DirectoryEntries {
	var d DirectoryEntries
	for _, o := range s.Organizations {
		d.Organizations = append(d.Organizations, Organization{ID: o.ID, Name: o.Name})
	}
	for _, st := range s.Staff {
		sender := domain.Sender{
			ID:             st.ID,
			Name:           st.Name,
			Address:        st.Phone,
			Role:           domain.Role(st.Role),
			OrganizationID: st.Organization,
		}
		if sender.Role == domain.RoleTeacher {
			sender.AssignedClassName = st.Class
		}
		d.Senders = append(d.Senders, sender)
	}
	for _, g := range s.Guardians {
		d.Guardians = append(d.Guardians, Guardian{
			Recipient: domain.Recipient{
				ID:                g.ID,
				Name:              g.Name,
				Address:           g.Phone,
				PreferredLanguage: domain.ParseLanguage(g.Language),
			},
			OrganizationID: g.Organization,
		})
	}
	for _, st := range s.Students {
		d.Students = append(d.Students, Student{
			ID:             st.ID,
			Name:           st.Name,
			ClassName:      st.Class,
			OrganizationID: st.Organization,
			GuardianID:     st.Guardian,
		})
	}
	return d
}

// Import writes the seed into the store. Importing the same seed twice leaves
// the directory unchanged.
func (s *SQLiteStore) Import(ctx context.Context, seed *Seed) error {
	if err := s.ReplaceDirectory(ctx, seed.Entries()); err != nil {
		return err
	}
	s.logger.Info("directory imported",
		"organizations", len(seed.Organizations),
		"staff", len(seed.Staff),
		"guardians", len(seed.Guardians),
		"students", len(seed.Students),
	)
	return nil
}
