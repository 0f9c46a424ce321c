//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fitvox/metering/internal/api"
	"github.com/fitvox/metering/internal/auth"
	"github.com/fitvox/metering/internal/quota"
)

const accessSecret = "test-access-secret-32-chars-long!!"

type TestEnv struct {
	Pool   *pgxpool.Pool
	Server *httptest.Server
	Store  *quota.PostgresStore
}

var (
	testEnv *TestEnv

	// Shared across every test in the package; torn down by TestMain, not by
	// the first test's cleanup.
	testEnvCleanups []func()
)

func TestMain(m *testing.M) {
	code := m.Run()
	for i := len(testEnvCleanups) - 1; i >= 0; i-- {
		testEnvCleanups[i]()
	}
	os.Exit(code)
}

func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "metering_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	testEnvCleanups = append(testEnvCleanups, func() { pgContainer.Terminate(ctx) })

	pgHost, _ := pgContainer.Host(ctx)
	pgPort, _ := pgContainer.MappedPort(ctx, "5432")

	// Connect to PostgreSQL
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/metering_test?sslmode=disable", pgHost, pgPort.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	testEnvCleanups = append(testEnvCleanups, pool.Close)

	// Run migrations
	m, err := migrate.New(fmt.Sprintf("file://%s", getMigrationsPath()), dsn)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	// Wire the engine against the real store
	store := quota.NewPostgresStore(pool)
	clock := clockwork.NewRealClock()
	sink := quota.NopSink{}

	engine := quota.NewEngine(store, clock, sink, quota.DefaultMaxRetries)
	gate := quota.NewTextGate(store, clock, sink, 5, quota.DefaultMaxRetries)
	applier := quota.NewApplier(store, clock, sink, quota.DefaultGrants(), quota.DefaultMaxRetries)
	handler := quota.NewHandler(engine, gate, applier)

	verifier := auth.NewVerifier(accessSecret)

	router := api.NewRouter(pool, api.RouterConfig{}, api.HandlerSet{
		CheckVoice:   handler.CheckVoice,
		ConsumeVoice: handler.ConsumeVoice,

		CheckText:     handler.CheckText,
		IncrementText: handler.IncrementText,

		ApplyRecharge:    handler.ApplyRecharge,
		ProcessRecharges: handler.ProcessRecharges,

		AuthMiddleware: auth.Middleware(verifier),
	})

	server := httptest.NewServer(router)
	testEnvCleanups = append(testEnvCleanups, server.Close)

	testEnv = &TestEnv{
		Pool:   pool,
		Server: server,
		Store:  store,
	}

	return testEnv
}

func getMigrationsPath() string {
	paths := []string{
		"../../migrations",
		"../../../migrations",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	log.Fatal("migrations directory not found")
	return ""
}

// Helper functions

// ProvisionUser inserts a fresh quota row, as the provisioning service would.
func ProvisionUser(t *testing.T, env *TestEnv, dailyLimitSeconds int64) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	_, err := env.Pool.Exec(context.Background(),
		`INSERT INTO voice_quotas (user_id, daily_limit_seconds) VALUES ($1, $2)`,
		userID, dailyLimitSeconds)
	if err != nil {
		t.Fatalf("provisioning user: %v", err)
	}
	return userID
}

// InsertPendingRecharge inserts a pending ledger row, as the payment service
// would after a confirmed purchase.
func InsertPendingRecharge(t *testing.T, env *TestEnv, userID uuid.UUID, typ quota.RechargeType, quantity int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := env.Pool.Exec(context.Background(),
		`INSERT INTO recharges (id, user_id, type, quantity, status) VALUES ($1, $2, $3, $4, 'pending')`,
		id, userID, string(typ), quantity)
	if err != nil {
		t.Fatalf("inserting pending recharge: %v", err)
	}
	return id
}

// MintToken signs an access token the way the platform auth service does.
func MintToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	claims := auth.AccessClaims{
		UserID: userID.String(),
		Email:  "member@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(accessSecret))
	if err != nil {
		t.Fatalf("minting token: %v", err)
	}
	return token
}

func DoRequest(t *testing.T, env *TestEnv, method, path string, body any, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, env.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("doing request: %v", err)
	}
	return resp
}

func ParseResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	return result
}
