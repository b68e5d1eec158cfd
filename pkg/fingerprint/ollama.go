package fingerprint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultClassifierModel is the default model used for slot classification.
	DefaultClassifierModel = "llama3.2"

	// DefaultBaseURL is the default Ollama API URL.
	DefaultBaseURL = "http://localhost:11434"
)

const classifierPrompt = `You label user statements with the single fact slot they update.
Answer with one lowercase word (e.g. phone, email, employer, allergy, pet) or "none" if the statement does not state one updatable personal fact.
Statement: %s
Slot:`

// OllamaClassifier implements Classifier against Ollama's generate API.
type OllamaClassifier struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// OllamaConfig holds configuration for the Ollama classifier.
type OllamaConfig struct {
	// BaseURL is the Ollama API URL. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// Model is the classification model. Defaults to DefaultClassifierModel.
	Model string
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// NewOllamaClassifier creates a classifier backed by Ollama.
func NewOllamaClassifier(cfg OllamaConfig) *OllamaClassifier {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultClassifierModel
	}

	return &OllamaClassifier{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			// The generator wraps calls in its own short deadline; this is a
			// backstop for callers that do not.
			Timeout: 10 * time.Second,
		},
	}
}

// Classify asks the model for the fact slot of text. Confidence is fixed at
// the acceptance floor plus a margin since the generate API reports none.
func (c *OllamaClassifier) Classify(ctx context.Context, text string) (string, float64, error) {
	reqBody := generateRequest{
		Model:  c.model,
		Prompt: fmt.Sprintf(classifierPrompt, text),
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", 0, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return "", 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", 0, fmt.Errorf("decoding response: %w", err)
	}

	slot := strings.TrimSpace(genResp.Response)
	if slot == "" || strings.EqualFold(slot, "none") {
		return "", 0, nil
	}

	return slot, 0.7, nil
}

// Ensure OllamaClassifier implements Classifier.
var _ Classifier = (*OllamaClassifier)(nil)
