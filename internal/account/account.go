package account

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("account: not found")
	ErrDuplicate      = errors.New("account: duplicate email or username")
	ErrSuperuserRole  = errors.New("account: superuser must keep the admin role")
	ErrAlreadyDeleted = errors.New("account: already deleted")
)

// Status is either Active or Deleted. Callers switch on the concrete type.
type Status interface {
	isStatus()
}

type Active struct{}

type Deleted struct {
	At time.Time
	By string
}

func (Active) isStatus()  {}
func (Deleted) isStatus() {}

type Account struct {
	ID          uuid.UUID
	Email       string
	Username    string
	GivenName   string
	FamilyName  string
	Role        Role
	IsSuperuser bool
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Identity links an external provider subject to a local account.
type Identity struct {
	AccountID      uuid.UUID
	Provider       string
	ProviderUserID string
}

func (a *Account) IsDeleted() bool {
	_, ok := a.Status.(Deleted)
	return ok
}

// normalize enforces the invariants every write must respect.
func (a *Account) normalize() {
	if a.Status == nil {
		a.Status = Active{}
	}
	if a.IsSuperuser {
		a.Role = RoleAdmin
	}
}
