package accounts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// BootstrapFile lists accounts to ensure at startup.
//
//	accounts:
//	  - email: owner@brandmart.test
//	    userName: Owner
//	    password: change-me-please
//	    role: admin
type BootstrapFile struct {
	Accounts []BootstrapAccount `yaml:"accounts"`
}

// BootstrapAccount is one entry of a [BootstrapFile].
type BootstrapAccount struct {
	Email    string `yaml:"email"`
	UserName string `yaml:"userName"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// LoadBootstrapFile reads and parses a bootstrap file.
func LoadBootstrapFile(path string) (*BootstrapFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bootstrap file: %w", err)
	}
	defer f.Close()
	return ParseBootstrap(f)
}

// ParseBootstrap decodes bootstrap YAML. Unknown fields are rejected.
func ParseBootstrap(r io.Reader) (*BootstrapFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var bf BootstrapFile
	if err := dec.Decode(&bf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse bootstrap file: %w", err)
	}
	for i, a := range bf.Accounts {
		if NormalizeEmail(a.Email) == "" {
			return nil, fmt.Errorf("bootstrap account %d: email required", i)
		}
		if a.Role == "" {
			bf.Accounts[i].Role = RoleUser
		} else if a.Role != RoleUser && a.Role != RoleAdmin {
			return nil, fmt.Errorf("bootstrap account %d: %w", i, ErrInvalidRole)
		}
	}
	return &bf, nil
}

// Apply registers missing accounts and enforces the listed roles. Existing
// passwords are left untouched.
func (s *Store) Apply(ctx context.Context, bf *BootstrapFile) (created int, err error) {
	if bf == nil {
		return 0, nil
	}
	for _, entry := range bf.Accounts {
		a, err := s.GetByEmail(ctx, entry.Email)
		if errors.Is(err, ErrNotFound) {
			name := entry.UserName
			if name == "" {
				name = entry.Email
			}
			a, err = s.Register(ctx, name, entry.Email, entry.Password)
			if err != nil {
				return created, fmt.Errorf("bootstrap %s: %w", entry.Email, err)
			}
			created++
		} else if err != nil {
			return created, err
		}
		if a.Role != entry.Role {
			if err := s.SetRole(ctx, a.ID, entry.Role); err != nil {
				return created, fmt.Errorf("bootstrap %s: %w", entry.Email, err)
			}
		}
	}
	return created, nil
}
