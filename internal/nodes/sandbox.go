package nodes

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"eino_flow/internal/core"
	"eino_flow/src/model"

	"github.com/bytedance/sonic"
)

const (
	LanguagePython3    = "python3"
	LanguageJavaScript = "javascript"

	resultMarker = "<<RESULT>>"
	sandboxPath  = "/v1/sandbox/run"
)

// CodeExecutor runs user code and returns the object its main function returned.
type CodeExecutor interface {
	Execute(ctx context.Context, language, code string, inputs map[string]any) (map[string]any, error)
}

// HTTPDoer is the subset of *http.Client the sandbox client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SandboxClient runs code through the sandbox HTTP run API.
type SandboxClient struct {
	endpoint      string
	apiKey        string
	enableNetwork bool
	http          HTTPDoer
}

// NewSandboxClient builds a client from config. httpClient may be nil.
func NewSandboxClient(cfg model.CodeConfig, httpClient HTTPDoer) *SandboxClient {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout + 5*time.Second}
	}
	return &SandboxClient{
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:        cfg.APIKey,
		enableNetwork: cfg.EnableNetwork,
		http:          httpClient,
	}
}

type sandboxRequest struct {
	Language      string `json:"language"`
	Code          string `json:"code"`
	Preload       string `json:"preload"`
	EnableNetwork bool   `json:"enable_network"`
}

type sandboxResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Stdout string `json:"stdout"`
		Error  string `json:"error"`
	} `json:"data"`
}

// Execute wraps code in a runner that decodes inputs, calls main and prints
// the JSON result between markers.
func (c *SandboxClient) Execute(ctx context.Context, language, code string, inputs map[string]any) (map[string]any, error) {
	runner, err := wrapCode(language, code, inputs)
	if err != nil {
		return nil, err
	}
	body, err := sonic.Marshal(sandboxRequest{
		Language:      language,
		Code:          runner,
		EnableNetwork: c.enableNetwork,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sandbox request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+sandboxPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build sandbox request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.WithCategory(core.CategoryExecutor, fmt.Errorf("sandbox unreachable: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.WithCategory(core.CategoryExecutor, fmt.Errorf("failed to read sandbox response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.WithCategory(core.CategoryExecutor,
			fmt.Errorf("sandbox returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var out sandboxResponse
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, core.WithCategory(core.CategoryExecutor, fmt.Errorf("failed to decode sandbox response: %w", err))
	}
	if out.Code != 0 {
		return nil, core.WithCategory(core.CategoryExecutor, fmt.Errorf("sandbox error %d: %s", out.Code, out.Message))
	}
	if out.Data.Error != "" {
		return nil, core.WithCategory(core.CategoryExecutor, fmt.Errorf("code execution failed: %s", out.Data.Error))
	}
	return extractResult(out.Data.Stdout)
}

var errNoResult = errors.New("code produced no result")

// extractResult decodes the JSON object framed by result markers in stdout.
func extractResult(stdout string) (map[string]any, error) {
	start := strings.Index(stdout, resultMarker)
	if start < 0 {
		return nil, core.WithCategory(core.CategoryExecutor, errNoResult)
	}
	rest := stdout[start+len(resultMarker):]
	end := strings.Index(rest, resultMarker)
	if end < 0 {
		return nil, core.WithCategory(core.CategoryExecutor, errNoResult)
	}

	var result map[string]any
	if err := sonic.UnmarshalString(rest[:end], &result); err != nil {
		return nil, core.WithCategory(core.CategoryTypeMismatch,
			fmt.Errorf("main must return an object: %w", err))
	}
	return result, nil
}

const pythonRunner = `%s

import json
from base64 import b64decode
inputs_obj = json.loads(b64decode('%s').decode('utf-8'))
output_obj = main(**inputs_obj)
output_json = json.dumps(output_obj, ensure_ascii=False)
print('%s' + output_json + '%s')
`

const javascriptRunner = `%s

var inputs_obj = JSON.parse(Buffer.from('%s', 'base64').toString('utf-8'))
var output_obj = main(inputs_obj)
var output_json = JSON.stringify(output_obj)
console.log('%s' + output_json + '%s')
`

func wrapCode(language, code string, inputs map[string]any) (string, error) {
	if inputs == nil {
		inputs = map[string]any{}
	}
	encoded, err := sonic.Marshal(inputs)
	if err != nil {
		return "", core.WithCategory(core.CategoryInput, fmt.Errorf("failed to encode code inputs: %w", err))
	}
	b64 := base64.StdEncoding.EncodeToString(encoded)

	switch language {
	case LanguagePython3:
		return fmt.Sprintf(pythonRunner, code, b64, resultMarker, resultMarker), nil
	case LanguageJavaScript:
		return fmt.Sprintf(javascriptRunner, code, b64, resultMarker, resultMarker), nil
	}
	return "", core.WithCategory(core.CategoryInput, fmt.Errorf("unsupported language %q", language))
}
