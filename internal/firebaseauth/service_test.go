package firebaseauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdmin fakes the slice of *auth.Client the service uses.
type fakeAdmin struct {
	mu      sync.Mutex
	users   map[string]*auth.UserRecord
	deleted chan string
	claims  map[string]map[string]interface{}
}

func newFakeAdmin(users ...*auth.UserRecord) *fakeAdmin {
	f := &fakeAdmin{
		users:   make(map[string]*auth.UserRecord),
		deleted: make(chan string, 8),
		claims:  make(map[string]map[string]interface{}),
	}
	for _, u := range users {
		f.users[u.UID] = u
	}
	return f
}

func (f *fakeAdmin) GetUser(ctx context.Context, uid string) (*auth.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[uid]; ok {
		return u, nil
	}
	return nil, errUserNotFound{}
}

func (f *fakeAdmin) GetUserByEmail(ctx context.Context, email string) (*auth.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, errUserNotFound{}
}

func (f *fakeAdmin) DeleteUser(ctx context.Context, uid string) error {
	f.mu.Lock()
	delete(f.users, uid)
	f.mu.Unlock()
	f.deleted <- uid
	return nil
}

func (f *fakeAdmin) CreateUser(ctx context.Context, user *auth.UserToCreate) (*auth.UserRecord, error) {
	record := &auth.UserRecord{UserInfo: &auth.UserInfo{UID: "new-uid", Email: "created@u-factor.io"}}
	f.mu.Lock()
	f.users[record.UID] = record
	f.mu.Unlock()
	return record, nil
}

func (f *fakeAdmin) SetCustomUserClaims(ctx context.Context, uid string, claims map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims[uid] = claims
	return nil
}

func (f *fakeAdmin) VisitUsers(ctx context.Context, visit func(*auth.UserRecord) error) error {
	f.mu.Lock()
	users := make([]*auth.UserRecord, 0, len(f.users))
	for _, u := range f.users {
		users = append(users, u)
	}
	f.mu.Unlock()
	for _, u := range users {
		if err := visit(u); err != nil {
			return err
		}
	}
	return nil
}

type errUserNotFound struct{}

func (errUserNotFound) Error() string { return "user not found" }

func devPolicy() Policy {
	return Policy{AllowedDomains: []string{"u-factor.io"}}
}

func TestHandleUserCreated_AllowedUserKept(t *testing.T) {
	admin := newFakeAdmin(googleUser("u1", "ana@u-factor.io"))
	svc := NewService(admin, devPolicy())

	decision, err := svc.HandleUserCreated(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	select {
	case uid := <-admin.deleted:
		t.Fatalf("allowed user %s was deleted", uid)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleUserCreated_UnauthorizedDeletedInBackground(t *testing.T) {
	admin := newFakeAdmin(googleUser("u2", "intruder@gmail.com"))
	svc := NewService(admin, devPolicy())

	decision, err := svc.HandleUserCreated(context.Background(), "u2")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	select {
	case uid := <-admin.deleted:
		assert.Equal(t, "u2", uid)
	case <-time.After(time.Second):
		t.Fatal("unauthorized user was never deleted")
	}
}

func TestHandleUserCreated_UnknownUser(t *testing.T) {
	svc := NewService(newFakeAdmin(), devPolicy())
	_, err := svc.HandleUserCreated(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestDeleteUser_RefusedInProduction(t *testing.T) {
	admin := newFakeAdmin(googleUser("u3", "ana@u-factor.io"))
	svc := NewService(admin, Policy{Production: true})

	err := svc.DeleteUser(context.Background(), "u3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "production")

	// Outside production the same call goes through.
	svc = NewService(admin, devPolicy())
	require.NoError(t, svc.DeleteUser(context.Background(), "u3"))
	assert.Equal(t, "u3", <-admin.deleted)
}

func decisionUIDs(decisions []Decision) []string {
	uids := make([]string, 0, len(decisions))
	for _, d := range decisions {
		uids = append(uids, d.UID)
	}
	return uids
}

func TestValidateAll_ReportsWithoutDeleting(t *testing.T) {
	admin := newFakeAdmin(
		googleUser("u1", "ana@u-factor.io"),
		googleUser("u2", "intruder@gmail.com"),
		passwordUser("u3", "admin@example.com"),
	)
	svc := NewService(admin, devPolicy())

	report, err := svc.ValidateAll(context.Background(), false)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"u1"}, decisionUIDs(report.Authorized))
	assert.ElementsMatch(t, []string{"u2"}, decisionUIDs(report.Unauthorized))
	assert.ElementsMatch(t, []string{"u3"}, decisionUIDs(report.NonGoogle))

	// The sweep is a report: nobody gets deleted.
	select {
	case uid := <-admin.deleted:
		t.Fatalf("user %s was deleted by a report-only sweep", uid)
	default:
	}
	_, err = svc.LookupUser(context.Background(), "u2")
	assert.NoError(t, err, "unauthorized user must survive the report")
}

func TestValidateAll_DeleteFlagRemovesUnauthorized(t *testing.T) {
	admin := newFakeAdmin(
		googleUser("u1", "ana@u-factor.io"),
		googleUser("u2", "intruder@gmail.com"),
		passwordUser("u3", "admin@example.com"),
	)
	svc := NewService(admin, devPolicy())

	report, err := svc.ValidateAll(context.Background(), true)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"u2"}, decisionUIDs(report.Unauthorized))

	assert.Equal(t, "u2", <-admin.deleted)
	select {
	case uid := <-admin.deleted:
		t.Fatalf("unexpected extra deletion of %s", uid)
	default:
	}
}

func TestListUsers(t *testing.T) {
	admin := newFakeAdmin(
		googleUser("u1", "ana@u-factor.io"),
		passwordUser("u2", "admin@example.com"),
	)
	svc := NewService(admin, devPolicy())

	users, err := svc.ListUsers(context.Background())
	require.NoError(t, err)

	emails := make([]string, 0, len(users))
	for _, u := range users {
		emails = append(emails, u.Email)
	}
	assert.ElementsMatch(t, []string{"ana@u-factor.io", "admin@example.com"}, emails)
}

func TestCreateUser_SetsClaims(t *testing.T) {
	admin := newFakeAdmin()
	svc := NewService(admin, devPolicy())

	user, err := svc.CreateUser(context.Background(), CreateUserParams{
		Email:     "created@u-factor.io",
		Password:  "changeme",
		Role:      "analyst",
		Customers: []string{"acme", "globex"},
		Nickname:  "ana",
	})
	require.NoError(t, err)

	claims := admin.claims[user.UID]
	require.NotNil(t, claims)
	assert.Equal(t, "analyst", claims["role"])
	assert.Equal(t, []string{"acme", "globex"}, claims["customers"])
	assert.Equal(t, "ana", claims["nickname"])
}

func TestCreateUser_Validation(t *testing.T) {
	svc := NewService(newFakeAdmin(), devPolicy())

	_, err := svc.CreateUser(context.Background(), CreateUserParams{})
	assert.Error(t, err, "email required")

	_, err = svc.CreateUser(context.Background(), CreateUserParams{
		Email: "a@u-factor.io",
		Phone: "912345678",
	})
	assert.Error(t, err, "non-E.164 phone rejected")
}

func TestLookupUser_ByUIDOrEmail(t *testing.T) {
	admin := newFakeAdmin(googleUser("u4", "ana@u-factor.io"))
	svc := NewService(admin, devPolicy())
	ctx := context.Background()

	byUID, err := svc.LookupUser(ctx, "u4")
	require.NoError(t, err)
	assert.Equal(t, "ana@u-factor.io", byUID.Email)

	byEmail, err := svc.LookupUser(ctx, "ana@u-factor.io")
	require.NoError(t, err)
	assert.Equal(t, "u4", byEmail.UID)

	_, err = svc.LookupUser(ctx, "missing@u-factor.io")
	assert.Error(t, err)
}
