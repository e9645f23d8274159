package firebaseauth

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/iterator"
)

// deleteTimeout bounds the background deletion spawned by the webhook.
const deleteTimeout = 30 * time.Second

// UserAdmin is the slice of the Firebase auth client the service needs.
// AdminClient adapts *auth.Client to it; VisitUsers keeps the listing
// operations fakeable in tests, where the SDK's concrete iterator cannot
// be constructed.
type UserAdmin interface {
	GetUser(ctx context.Context, uid string) (*auth.UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (*auth.UserRecord, error)
	DeleteUser(ctx context.Context, uid string) error
	CreateUser(ctx context.Context, user *auth.UserToCreate) (*auth.UserRecord, error)
	SetCustomUserClaims(ctx context.Context, uid string, claims map[string]interface{}) error
	VisitUsers(ctx context.Context, visit func(*auth.UserRecord) error) error
}

// AdminClient wraps *auth.Client to satisfy UserAdmin.
type AdminClient struct {
	*auth.Client
}

// VisitUsers calls visit for every user in the project, paging through the
// SDK iterator. A non-nil error from visit stops the walk.
func (c AdminClient) VisitUsers(ctx context.Context, visit func(*auth.UserRecord) error) error {
	it := c.Users(ctx, "")
	for {
		user, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return err
		}
		if err := visit(user.UserRecord); err != nil {
			return err
		}
	}
}

// Service validates and administers Firebase users.
type Service struct {
	admin  UserAdmin
	policy Policy
}

// NewClient builds the Firebase auth client for the project using
// Application Default Credentials.
func NewClient(ctx context.Context, projectID string) (AdminClient, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID})
	if err != nil {
		return AdminClient{}, fmt.Errorf("firebase: create app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return AdminClient{}, fmt.Errorf("firebase: create auth client: %w", err)
	}
	return AdminClient{Client: client}, nil
}

// NewService creates the validation service.
func NewService(admin UserAdmin, policy Policy) *Service {
	return &Service{admin: admin, policy: policy}
}

// HandleUserCreated is the signup webhook: it evaluates the new user and,
// when the policy rejects them, deletes the account in the background so the
// webhook response stays fast.
func (s *Service) HandleUserCreated(ctx context.Context, uid string) (Decision, error) {
	user, err := s.admin.GetUser(ctx, uid)
	if err != nil {
		return Decision{}, fmt.Errorf("get user %s: %w", uid, err)
	}

	decision := s.policy.Evaluate(user)
	if !decision.Allowed {
		log.Printf("Unauthorized signup %s (%s): %s, scheduling deletion", uid, user.Email, decision.Reason)
		go func() {
			dctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
			defer cancel()
			if err := s.admin.DeleteUser(dctx, uid); err != nil {
				log.Printf("Failed to delete unauthorized user %s: %v", uid, err)
			}
		}()
	}
	return decision, nil
}

// ValidateUser evaluates one user without side effects.
func (s *Service) ValidateUser(ctx context.Context, uid string) (Decision, error) {
	user, err := s.admin.GetUser(ctx, uid)
	if err != nil {
		return Decision{}, fmt.Errorf("get user %s: %w", uid, err)
	}
	return s.policy.Evaluate(user), nil
}

// DeleteUser removes a user. Refused in production.
func (s *Service) DeleteUser(ctx context.Context, uid string) error {
	if s.policy.Production {
		return fmt.Errorf("user deletion is disabled in production")
	}
	if err := s.admin.DeleteUser(ctx, uid); err != nil {
		return fmt.Errorf("delete user %s: %w", uid, err)
	}
	return nil
}

// ValidationReport categorizes every user in the project against the
// signup policy.
type ValidationReport struct {
	Authorized   []Decision `json:"authorized"`
	Unauthorized []Decision `json:"unauthorized"`
	NonGoogle    []Decision `json:"non_google"`
}

// ValidateAll walks every user and evaluates the policy. The sweep only
// reports: unauthorized accounts are deleted solely when deleteUnauthorized
// is set.
func (s *Service) ValidateAll(ctx context.Context, deleteUnauthorized bool) (ValidationReport, error) {
	var report ValidationReport

	err := s.admin.VisitUsers(ctx, func(user *auth.UserRecord) error {
		decision := s.policy.Evaluate(user)
		switch {
		case !isGoogleUser(user):
			report.NonGoogle = append(report.NonGoogle, decision)
		case decision.Allowed:
			report.Authorized = append(report.Authorized, decision)
		default:
			report.Unauthorized = append(report.Unauthorized, decision)
			if deleteUnauthorized {
				if err := s.admin.DeleteUser(ctx, user.UID); err != nil {
					log.Printf("Failed to delete unauthorized user %s: %v", user.UID, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("list users: %w", err)
	}
	return report, nil
}

// ListUsers returns every user record in the project.
func (s *Service) ListUsers(ctx context.Context) ([]*auth.UserRecord, error) {
	var users []*auth.UserRecord
	err := s.admin.VisitUsers(ctx, func(user *auth.UserRecord) error {
		users = append(users, user)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// CreateUserParams are the admin-side user creation inputs.
type CreateUserParams struct {
	Email       string
	Password    string
	DisplayName string
	Phone       string
	Role        string
	Customers   []string
	Nickname    string
}

// CreateUser creates an email/password user with the custom claims the UI
// reads: role, customers, nickname.
func (s *Service) CreateUser(ctx context.Context, params CreateUserParams) (*auth.UserRecord, error) {
	if params.Email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if params.Phone != "" && !ValidPhone(params.Phone) {
		return nil, fmt.Errorf("phone number %q is not in E.164 format", params.Phone)
	}

	toCreate := (&auth.UserToCreate{}).Email(params.Email)
	if params.Password != "" {
		toCreate = toCreate.Password(params.Password)
	}
	if params.DisplayName != "" {
		toCreate = toCreate.DisplayName(params.DisplayName)
	}
	if params.Phone != "" {
		toCreate = toCreate.PhoneNumber(params.Phone)
	}

	user, err := s.admin.CreateUser(ctx, toCreate)
	if err != nil {
		return nil, fmt.Errorf("create user %s: %w", params.Email, err)
	}

	claims := map[string]interface{}{}
	if params.Role != "" {
		claims["role"] = params.Role
	}
	if len(params.Customers) > 0 {
		claims["customers"] = params.Customers
	}
	if params.Nickname != "" {
		claims["nickname"] = params.Nickname
	}
	if len(claims) > 0 {
		if err := s.admin.SetCustomUserClaims(ctx, user.UID, claims); err != nil {
			return user, fmt.Errorf("set claims for %s: %w", user.UID, err)
		}
	}
	return user, nil
}

// SetClaims replaces a user's custom claims.
func (s *Service) SetClaims(ctx context.Context, uid string, claims map[string]interface{}) error {
	if err := s.admin.SetCustomUserClaims(ctx, uid, claims); err != nil {
		return fmt.Errorf("set claims for %s: %w", uid, err)
	}
	return nil
}

// LookupUser finds a user by uid or, when the key contains '@', by email.
func (s *Service) LookupUser(ctx context.Context, key string) (*auth.UserRecord, error) {
	var (
		user *auth.UserRecord
		err  error
	)
	if strings.Contains(key, "@") {
		user, err = s.admin.GetUserByEmail(ctx, key)
	} else {
		user, err = s.admin.GetUser(ctx, key)
	}
	if err != nil {
		if auth.IsUserNotFound(err) {
			return nil, fmt.Errorf("user %s not found", key)
		}
		return nil, fmt.Errorf("lookup user %s: %w", key, err)
	}
	return user, nil
}
