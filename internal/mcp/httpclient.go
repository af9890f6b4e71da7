package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Nickostick/project-lift-off/internal/models"
	"github.com/Nickostick/project-lift-off/internal/session"
)

// HTTPClient implements Backend by calling the liftoff REST API. Used for
// remote MCP mode where the binary runs locally (stdio) but the workout
// lives on the device daemon (reached over Tailscale).
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ Backend = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient targeting the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// statusError is a non-2xx reply from the daemon.
type statusError struct {
	path   string
	status int
	body   []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("httpclient: %s returned %d: %s", e.path, e.status, bytes.TrimSpace(e.body))
}

// bucketToParam maps store bucket names to the REST bucket parameter.
func bucketToParam(bucket string) string {
	if bucket == "1 week" {
		return "week"
	}
	return "month"
}

func (c *HTTPClient) do(ctx context.Context, method, path string, params url.Values, in, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("httpclient: encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("httpclient: create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("httpclient: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{path: path, status: resp.StatusCode, body: data}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("httpclient: decode %s: %w", path, err)
	}
	return nil
}

// timeParams keeps sub-second precision so an end of time.Now() still covers
// logs written earlier in the same second.
func timeParams(start, end time.Time) url.Values {
	v := url.Values{}
	v.Set("start", start.Format(time.RFC3339Nano))
	v.Set("end", end.Format(time.RFC3339Nano))
	return v
}

func (c *HTTPClient) ListTemplates(ctx context.Context) ([]models.ProgramTemplate, error) {
	var out []models.ProgramTemplate
	if err := c.do(ctx, http.MethodGet, "/api/v1/templates", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) StartWorkout(ctx context.Context, programID, day, label string) (*session.Snapshot, error) {
	in := map[string]string{"program_id": programID, "day": day, "label": label}
	var out session.Snapshot
	err := c.do(ctx, http.MethodPost, "/api/v1/session/start", nil, in, &out)
	var se *statusError
	if errors.As(err, &se) && se.status == http.StatusConflict {
		return nil, ErrCompleting
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) AddExercise(ctx context.Context, ex models.TemplateExercise) (*Mutation, error) {
	return c.mutate(ctx, http.MethodPost, "/api/v1/session/exercises", ex)
}

func (c *HTTPClient) RemoveExercise(ctx context.Context, exercise int) (*Mutation, error) {
	return c.mutate(ctx, http.MethodDelete, exercisePath(exercise), nil)
}

func (c *HTTPClient) AddSet(ctx context.Context, exercise int) (*Mutation, error) {
	return c.mutate(ctx, http.MethodPost, exercisePath(exercise)+"/sets", nil)
}

func (c *HTTPClient) LogSet(ctx context.Context, exercise, set, reps int, weight float64, completed bool) (*Mutation, error) {
	in := map[string]any{"reps": reps, "weight": weight, "completed": completed}
	return c.mutate(ctx, http.MethodPut, setPath(exercise, set), in)
}

func (c *HTTPClient) RemoveSet(ctx context.Context, exercise, set int) (*Mutation, error) {
	return c.mutate(ctx, http.MethodDelete, setPath(exercise, set), nil)
}

// CompleteWorkout maps a 502 reply back to a *session.CompletionError so
// callers can offer a retry the same way as in local mode.
func (c *HTTPClient) CompleteWorkout(ctx context.Context) (*session.Result, error) {
	var out session.Result
	err := c.do(ctx, http.MethodPost, "/api/v1/session/complete", nil, nil, &out)
	var se *statusError
	if errors.As(err, &se) {
		switch se.status {
		case http.StatusConflict:
			return nil, nil
		case http.StatusBadGateway:
			var failure struct {
				Error string `json:"error"`
				Stage string `json:"stage"`
			}
			if json.Unmarshal(se.body, &failure) == nil && failure.Stage != "" {
				return nil, &session.CompletionError{Stage: failure.Stage, Err: errors.New(failure.Error)}
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) DiscardWorkout(ctx context.Context) (*Mutation, error) {
	return c.mutate(ctx, http.MethodPost, "/api/v1/session/discard", nil)
}

func (c *HTTPClient) Session(ctx context.Context) (*session.Snapshot, error) {
	var out session.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/session", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Level(ctx context.Context) (*session.LevelSnapshot, error) {
	var out session.LevelSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/level", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) AcknowledgeLevelUp(ctx context.Context) (bool, error) {
	var out struct {
		Acknowledged bool `json:"acknowledged"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/level/ack", nil, nil, &out); err != nil {
		return false, err
	}
	return out.Acknowledged, nil
}

func (c *HTTPClient) PersonalRecords(ctx context.Context) ([]models.PersonalRecord, error) {
	var out []models.PersonalRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/records", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) WorkoutLogs(ctx context.Context, start, end time.Time) ([]models.WorkoutLog, error) {
	var out []models.WorkoutLog
	if err := c.do(ctx, http.MethodGet, "/api/v1/logs", timeParams(start, end), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) TrainingSummary(ctx context.Context, start, end time.Time, bucket string) ([]models.StrengthVolumeSummary, error) {
	params := timeParams(start, end)
	params.Set("bucket", bucketToParam(bucket))

	var out []models.StrengthVolumeSummary
	if err := c.do(ctx, http.MethodGet, "/api/v1/summary", params, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) mutate(ctx context.Context, method, path string, in any) (*Mutation, error) {
	var out Mutation
	if err := c.do(ctx, method, path, nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func exercisePath(exercise int) string {
	return "/api/v1/session/exercises/" + strconv.Itoa(exercise)
}

func setPath(exercise, set int) string {
	return exercisePath(exercise) + "/sets/" + strconv.Itoa(set)
}
