// README: Benchmark cases covering environment checks, the ride lifecycle, concurrency and throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ridedispatch/internal/infra"
)

// Bench fixtures around Paris. -seed registers them through the operator
// routes, or writes them to Postgres for the next fleet refresh.
const (
	benchDriver  = "bench_d1"
	benchVehicle = "bench_v1"
	benchRider   = "bench_rider1"
)

var (
	benchPickup      = map[string]float64{"lat": 48.8566, "lng": 2.3522}
	benchDestination = map[string]float64{"lat": 48.8606, "lng": 2.3376}
	benchDriverPos   = map[string]any{"lat": 48.8570, "lng": 2.3530}
)

type Runner struct {
	cfg    Config
	httpc  *http.Client
	db     *pgxpool.Pool
	redis  *redis.Client
	tokens *infra.JWTVerifier

	// rideID carries the ride created by the lifecycle cases.
	rideID string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	r := &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
	if cfg.JWTSecret != "" {
		r.tokens = infra.NewJWTVerifier(cfg.JWTSecret)
	}
	return r
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) token(uid, role string) string {
	if r.tokens == nil {
		return ""
	}
	tok, err := r.tokens.Sign(uid, role, time.Hour)
	if err != nil {
		return ""
	}
	return tok
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "DB reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "Redis reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "apply migration SQL",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: "SKIP", Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "tables from migrations/0001_init.sql",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Seed: bench driver and vehicle",
			Focus: "fleet fixtures",
			Run:   seedFleet,
		},
		{
			Name:  "API: health",
			Focus: "server reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				resp, err := r.httpc.Get(base + "/health")
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				_ = resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", resp.StatusCode)}
				}
				return Result{Status: "PASS", Latency: time.Since(start)}
			},
		},
		{
			Name:  "API: missing token -> 401",
			Focus: "auth enforced",
			Run: func(ctx context.Context, r *Runner) Result {
				res, _ := r.do(ctx, "", http.MethodGet, base+"/api/rides/none", nil)
				return expect(res, http.StatusUnauthorized)
			},
		},

		// Driver side
		r.apiCase("Driver: go online", benchDriver, "driver", http.MethodPut, "/api/drivers/"+benchDriver+"/availability",
			map[string]any{"online": true}, []int{200}),
		r.apiCase("Driver: go online again (idempotent)", benchDriver, "driver", http.MethodPut, "/api/drivers/"+benchDriver+"/availability",
			map[string]any{"online": true}, []int{200}),
		r.apiCase("Driver: location update", benchDriver, "driver", http.MethodPut, "/api/drivers/"+benchDriver+"/location",
			benchDriverPos, []int{200}),
		r.apiCase("Driver: invalid coords -> 400", benchDriver, "driver", http.MethodPut, "/api/drivers/"+benchDriver+"/location",
			map[string]any{"lat": 123.0, "lng": 456.0}, []int{400}),
		r.apiCase("Driver: other driver's location -> 403", "bench_d2", "driver", http.MethodPut, "/api/drivers/"+benchDriver+"/location",
			benchDriverPos, []int{403}),

		// Ride lifecycle
		{
			Name:  "Ride: request matches nearby driver",
			Focus: "requested -> accepted",
			Run: func(ctx context.Context, r *Runner) Result {
				res, body := r.do(ctx, r.token(benchRider, ""), http.MethodPost, base+"/api/rides", map[string]any{
					"pickup":      benchPickup,
					"destination": benchDestination,
				})
				if res.Status != "PASS" {
					return res
				}
				if code := statusOf(res); code != http.StatusCreated {
					return pendingOr(res, code)
				}
				id, _ := body["id"].(string)
				r.rideID = id
				if body["status"] != "accepted" {
					res.Status = "FAIL"
					res.Note = fmt.Sprintf("status=%v", body["status"])
				}
				return res
			},
		},
		r.apiCase("Ride: second active ride -> 409", benchRider, "", http.MethodPost, "/api/rides",
			map[string]any{"pickup": benchPickup, "destination": benchDestination}, []int{409}),
		r.rideCase("Ride: read", benchRider, "", http.MethodGet, "", nil, []int{200}),
		r.rideCase("Ride: rating before completion -> 409", benchRider, "", http.MethodPost, "/rating", map[string]any{"score": 5}, []int{409}),
		r.rideCase("Ride: start", benchDriver, "driver", http.MethodPost, "/start", nil, []int{200}),
		r.rideCase("Ride: cancel in progress -> 409", benchRider, "", http.MethodPost, "/cancel", nil, []int{409}),
		r.rideCase("Ride: complete", benchDriver, "driver", http.MethodPost, "/complete", nil, []int{200}),
		r.rideCase("Ride: rider rates driver", benchRider, "", http.MethodPost, "/rating", map[string]any{"score": 5}, []int{200}),
		r.rideCase("Ride: rate twice -> 409", benchRider, "", http.MethodPost, "/rating", map[string]any{"score": 4}, []int{409}),
		r.rideCase("Ride: trail", benchRider, "", http.MethodGet, "/trail", nil, []int{200}),
		r.apiCase("Driver: profile", benchRider, "", http.MethodGet, "/api/drivers/"+benchDriver, nil, []int{200}),

		// Concurrency
		{
			Name:  "Concurrency: many riders, one driver",
			Focus: "a driver is never assigned twice",
			Run: func(ctx context.Context, r *Runner) Result {
				return concurrentRequests(ctx, r, base+"/api/rides")
			},
		},

		// Performance
		{
			Name:  "Perf: location update throughput",
			Focus: "50-100 position reports per second",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, r.token(benchDriver, "driver"), http.MethodPut,
					base+"/api/drivers/"+benchDriver+"/location", benchDriverPos)
			},
		},
	}
}

// do sends one JSON request and decodes a JSON object answer.
func (r *Runner) do(ctx context.Context, token, method, url string, body any) (Result, map[string]any) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}, nil
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}, nil
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return Result{Status: "PASS", Latency: time.Since(start), Note: fmt.Sprintf("status=%d", resp.StatusCode)}, out
}

func (r *Runner) apiCase(name, uid, role, method, path string, body any, okStatuses []int) TestCase {
	return TestCase{
		Name:  name,
		Focus: "HTTP API",
		Run: func(ctx context.Context, r *Runner) Result {
			if r.tokens == nil {
				return Result{Status: "SKIP", Note: "jwt secret not configured"}
			}
			res, _ := r.do(ctx, r.token(uid, role), method, r.cfg.BaseURL+path, body)
			return expect(res, okStatuses...)
		},
	}
}

// rideCase targets the ride created by the lifecycle request case.
func (r *Runner) rideCase(name, uid, role, method, suffix string, body any, okStatuses []int) TestCase {
	return TestCase{
		Name:  name,
		Focus: "ride lifecycle",
		Run: func(ctx context.Context, r *Runner) Result {
			if r.rideID == "" {
				return Result{Status: "PENDING", Note: "no ride created"}
			}
			res, _ := r.do(ctx, r.token(uid, role), method, r.cfg.BaseURL+"/api/rides/"+r.rideID+suffix, body)
			return expect(res, okStatuses...)
		},
	}
}

func statusOf(res Result) int {
	var code int
	_, _ = fmt.Sscanf(res.Note, "status=%d", &code)
	return code
}

func expect(res Result, okStatuses ...int) Result {
	if res.Status != "PASS" {
		return res
	}
	code := statusOf(res)
	if contains(okStatuses, code) {
		return res
	}
	return pendingOr(res, code)
}

// pendingOr marks 404/501 as PENDING (fixtures missing or feature off).
func pendingOr(res Result, code int) Result {
	if code == http.StatusNotFound || code == http.StatusNotImplemented {
		res.Status = "PENDING"
		return res
	}
	res.Status = "FAIL"
	return res
}

func seedFleet(ctx context.Context, r *Runner) Result {
	if !r.cfg.Seed {
		return Result{Status: "SKIP", Note: "seed=false"}
	}
	now := time.Now()
	if r.tokens != nil {
		return seedFleetAPI(ctx, r, now)
	}
	if r.db == nil {
		return Result{Status: "FAIL", Note: "db not configured"}
	}
	if _, err := r.db.Exec(ctx, `
		INSERT INTO drivers (id, user_id, license_valid_from, license_valid_until, active_vehicle_id)
		VALUES ($1, $1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		benchDriver, now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0), benchVehicle,
	); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if _, err := r.db.Exec(ctx, `
		INSERT INTO vehicles (id, driver_id, capacity, vehicle_type, insurance_expiry, inspection_expiry)
		VALUES ($1, $2, 4, 'standard', $3, $3)
		ON CONFLICT (id) DO NOTHING`,
		benchVehicle, benchDriver, now.AddDate(1, 0, 0),
	); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	return Result{Status: "PASS", Note: "visible after the next fleet refresh"}
}

// seedFleetAPI registers the driver first so the vehicle can attach to it.
func seedFleetAPI(ctx context.Context, r *Runner, now time.Time) Result {
	tok := r.token("bench_operator", "operator")
	start := time.Now()
	res, _ := r.do(ctx, tok, http.MethodPost, r.cfg.BaseURL+"/api/drivers", map[string]any{
		"id":                  benchDriver,
		"license_valid_from":  now.AddDate(-1, 0, 0),
		"license_valid_until": now.AddDate(1, 0, 0),
	})
	if code := statusOf(res); code != http.StatusCreated {
		return Result{Status: "FAIL", Note: fmt.Sprintf("register driver: status=%d", code)}
	}
	res, _ = r.do(ctx, tok, http.MethodPost, r.cfg.BaseURL+"/api/vehicles", map[string]any{
		"id":                benchVehicle,
		"driver_id":         benchDriver,
		"capacity":          4,
		"vehicle_type":      "standard",
		"insurance_expiry":  now.AddDate(1, 0, 0),
		"inspection_expiry": now.AddDate(1, 0, 0),
	})
	if code := statusOf(res); code != http.StatusCreated {
		return Result{Status: "FAIL", Note: fmt.Sprintf("register vehicle: status=%d", code)}
	}
	return Result{Status: "PASS", Latency: time.Since(start)}
}

func concurrentRequests(ctx context.Context, r *Runner, url string) Result {
	if r.tokens == nil {
		return Result{Status: "SKIP", Note: "jwt secret not configured"}
	}
	payload := map[string]any{"pickup": benchPickup, "destination": benchDestination}
	wg := sync.WaitGroup{}
	mu := sync.Mutex{}
	assigned := map[string]int{}
	created := 0

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, body := r.do(ctx, r.token(fmt.Sprintf("bench_rider_c%d", i), ""), http.MethodPost, url, payload)
			if statusOf(res) != http.StatusCreated {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			created++
			if d, ok := body["driver_id"].(string); ok && d != "" && body["status"] == "accepted" {
				assigned[d]++
			}
		}(i)
	}
	wg.Wait()

	if created == 0 {
		return Result{Status: "PENDING", Note: "no ride created"}
	}
	for d, n := range assigned {
		if n > 1 {
			return Result{Status: "FAIL", Note: fmt.Sprintf("driver %s assigned %d times", d, n)}
		}
	}
	return Result{Status: "PASS", Note: fmt.Sprintf("created=%d assigned=%d", created, len(assigned))}
}

func perfLoad(ctx context.Context, r *Runner, token, method, url string, payload any) Result {
	if token == "" {
		return Result{Status: "SKIP", Note: "jwt secret not configured"}
	}
	b, _ := json.Marshal(payload)
	end := time.Now().Add(r.cfg.Duration)
	var count int64
	var errCount int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				req, _ := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(b))
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("Authorization", "Bearer "+token)
				resp, err := r.httpc.Do(req)
				if err != nil {
					mu.Lock()
					errCount++
					mu.Unlock()
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				mu.Lock()
				if resp.StatusCode >= 400 {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("no requests completed, errors=%d", errCount)}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	cleaned := strings.Join(filtered, "\n")
	parts := strings.Split(cleaned, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
