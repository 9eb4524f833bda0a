package estimator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

const estimateLine = `{"currentPrice":5400000,"futureProjections":[5500000,5600000,5700000,5800000],"projections":{"q1":5500000,"q2":5600000,"q3":5700000,"q4":5800000},"roi":{"totalGrowth":7.4,"annualizedROI":7.4,"quarterlyGrowth":1.8},"quarterlyGrowthRate":0.018,"growthRateSource":"city"}`

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	path := filepath.Join(dir, "model.sh")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func newGateway(t *testing.T, body string, timeout time.Duration) (*Gateway, string) {
	t.Helper()
	dir := t.TempDir()
	g, err := New(Config{
		Command:  "/bin/sh",
		Script:   writeScript(t, dir, body),
		DataPath: "/data/prices.csv",
		WorkDir:  dir,
		Timeout:  timeout,
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return g, dir
}

var sample = Request{PropertyType: "flat", Sqft: 1200, City: "Pune", BHK: 2}

func TestPredictUsesLastStdoutLine(t *testing.T) {
	script := "printf '%s' \"$1\" > envelope.json\n" +
		"echo 'loading model'\n" +
		"echo '" + estimateLine + "'\n" +
		"echo ''\n"
	g, dir := newGateway(t, script, 5*time.Second)

	est, err := g.Predict(context.Background(), sample)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if est.CurrentPrice != 5400000 || len(est.FutureProjections) != 4 || est.Projections["q4"] != 5800000 {
		t.Fatalf("unexpected estimate: %+v", est)
	}
	if est.ROI.AnnualizedROI != 7.4 || est.GrowthRateSource != "city" {
		t.Fatalf("unexpected roi fields: %+v", est)
	}

	envelope, err := os.ReadFile(filepath.Join(dir, "envelope.json"))
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	got := gjson.ParseBytes(envelope)
	if got.Get("propertyType").String() != "flat" || got.Get("sqft").Float() != 1200 ||
		got.Get("city").String() != "Pune" || got.Get("bhk").Int() != 2 ||
		got.Get("dataPath").String() != "/data/prices.csv" {
		t.Fatalf("unexpected envelope: %s", envelope)
	}
}

func TestPredictFailures(t *testing.T) {
	cases := []struct {
		name    string
		script  string
		timeout time.Duration
	}{
		{"error envelope", `echo '{"error":"city not found"}'`, 5 * time.Second},
		{"non-zero exit", "echo '" + estimateLine + "'\nexit 3", 5 * time.Second},
		{"not json", "echo 'no estimate today'", 5 * time.Second},
		{"empty output", "true", 5 * time.Second},
		{"array output", "echo '[1,2,3]'", 5 * time.Second},
		{"missing price", `echo '{"roi":{}}'`, 5 * time.Second},
		{"timeout", "exec sleep 5", 200 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, _ := newGateway(t, tc.script, tc.timeout)
			start := time.Now()
			_, err := g.Predict(context.Background(), sample)
			if !errors.Is(err, ErrEstimationFailed) {
				t.Fatalf("err = %v, want ErrEstimationFailed", err)
			}
			if time.Since(start) > 4*time.Second {
				t.Fatalf("failure took %s", time.Since(start))
			}
		})
	}
}

func TestPredictMissingCommand(t *testing.T) {
	g, err := New(Config{Command: filepath.Join(t.TempDir(), "no-such-binary"), Script: "model.py"})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	if _, err := g.Predict(context.Background(), sample); !errors.Is(err, ErrEstimationFailed) {
		t.Fatalf("err = %v, want ErrEstimationFailed", err)
	}
}

func TestPredictHonoursCancelledContextWhileWaiting(t *testing.T) {
	g, _ := newGateway(t, "echo '"+estimateLine+"'", 5*time.Second)
	if err := g.sem.Acquire(context.Background(), int64(g.cfg.MaxConcurrent)); err != nil {
		t.Fatalf("fill semaphore: %v", err)
	}
	defer g.sem.Release(int64(g.cfg.MaxConcurrent))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := g.Predict(ctx, sample); !errors.Is(err, ErrEstimationFailed) {
		t.Fatalf("err = %v, want ErrEstimationFailed", err)
	}
}

func TestInputRequest(t *testing.T) {
	cases := []struct {
		body    string
		wantErr string
		want    Request
	}{
		{`{"propertyType":"flat","sqft":1200,"city":"Pune","bhk":2}`, "", Request{"flat", 1200, "Pune", 2}},
		{`{"propertyType":"flat","sqft":"950.5","city":" Pune ","bhk":"3"}`, "", Request{"flat", 950.5, "Pune", 3}},
		{`{"propertyType":"flat","city":"Pune","bhk":2}`, "All fields are required", Request{}},
		{`{"propertyType":"flat","sqft":null,"city":"Pune","bhk":2}`, "All fields are required", Request{}},
		{`{"propertyType":"flat","sqft":"","city":"Pune","bhk":2}`, "All fields are required", Request{}},
		{`{"propertyType":"flat","sqft":"big","city":"Pune","bhk":2}`, "Invalid area value", Request{}},
		{`{"propertyType":"flat","sqft":-5,"city":"Pune","bhk":2}`, "Invalid area value", Request{}},
		{`{"propertyType":"flat","sqft":100,"city":"Pune","bhk":"2.5"}`, "Invalid BHK value", Request{}},
		{`{"propertyType":"flat","sqft":100,"city":"Pune","bhk":0}`, "Invalid BHK value", Request{}},
	}
	for _, tc := range cases {
		var in Input
		if err := json.Unmarshal([]byte(tc.body), &in); err != nil {
			t.Fatalf("decode %s: %v", tc.body, err)
		}
		got, err := in.Request()
		if tc.wantErr != "" {
			if !errors.Is(err, ErrInvalidInput) || err.Error() != tc.wantErr {
				t.Fatalf("%s: err = %v, want %q", tc.body, err, tc.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.body, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %+v, want %+v", tc.body, got, tc.want)
		}
	}
}
