// Package influxx keeps a time series of consistency audits and repairs.
package influxx

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"creator-sync/shared/config"
)

const (
	measurementCheck  = "consistency_check"
	measurementRepair = "consistency_repair"
)

var errNotInitialized = errors.New("influx client not initialized")

type Client struct {
	client influxdb2.Client
	org    string
	bucket string
	env    string
}

// New returns (nil, nil) when Influx is not configured; callers treat a nil
// *Client as "no history sink".
func New(cfg config.Config) (*Client, error) {
	if cfg.InfluxURL == "" {
		return nil, nil
	}
	if cfg.InfluxToken == "" || cfg.InfluxOrg == "" || cfg.InfluxBucket == "" {
		return nil, errors.New("INFLUX_TOKEN/INFLUX_ORG/INFLUX_BUCKET are required when INFLUX_URL is set")
	}
	opts := influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(max(cfg.InfluxTimeoutMS/1000, 1)))
	return &Client{
		client: influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts),
		org:    cfg.InfluxOrg,
		bucket: cfg.InfluxBucket,
		env:    cfg.Env,
	}, nil
}

func (c *Client) WriteCheck(ctx context.Context, entityType string, checked int, mismatches int, ts time.Time) error {
	return c.write(ctx, influxdb2.NewPoint(measurementCheck,
		map[string]string{"entity_type": entityType, "env": c.envTag()},
		map[string]any{"checked": checked, "mismatches": mismatches},
		ts,
	))
}

func (c *Client) WriteRepair(ctx context.Context, repaired int, failed int, ts time.Time) error {
	return c.write(ctx, influxdb2.NewPoint(measurementRepair,
		map[string]string{"env": c.envTag()},
		map[string]any{"repaired": repaired, "failed": failed},
		ts,
	))
}

// MismatchHistory returns the mismatch series for entityType over the window.
func (c *Client) MismatchHistory(ctx context.Context, entityType string, window time.Duration) ([]Sample, error) {
	if c == nil || c.client == nil {
		return nil, errNotInitialized
	}
	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: -%ds)
  |> filter(fn: (r) => r._measurement == %q and r._field == "mismatches" and r.entity_type == %q)
  |> sort(columns: ["_time"])`, c.bucket, int(window.Seconds()), measurementCheck, entityType)
	res, err := c.client.QueryAPI(c.org).Query(ctx, flux)
	if err != nil {
		return nil, err
	}
	return collect(res)
}

type Sample struct {
	At    time.Time
	Value int64
}

func collect(res *api.QueryTableResult) ([]Sample, error) {
	defer res.Close()
	var out []Sample
	for res.Next() {
		rec := res.Record()
		v, ok := rec.Value().(int64)
		if !ok {
			continue
		}
		out = append(out, Sample{At: rec.Time(), Value: v})
	}
	return out, res.Err()
}

func (c *Client) write(ctx context.Context, p *write.Point) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.client.WriteAPIBlocking(c.org, c.bucket).WritePoint(ctx, p)
}

func (c *Client) envTag() string {
	if c.env == "" {
		return "dev"
	}
	return c.env
}

func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Close()
}
