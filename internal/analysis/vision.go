package analysis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/boletapp/scan-engine/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const (
	defaultAnalyzeTimeout = 30 * time.Second
	defaultMimeType       = "image/jpeg"
)

// extractionPrompt asks the model for strict JSON matching receiptPayload.
const extractionPrompt = `Extract the receipt in this image as JSON with fields:
merchant (string), date (ISO-8601 date string), total (number),
category (string), items (array of {name, price, quantity, category}).
Respond with JSON only. If the image is not a readable receipt, respond
with {"unreadable": true}.`

type visionRequest struct {
	Contents         []visionContent `json:"contents"`
	GenerationConfig visionGenConfig `json:"generationConfig"`
}

type visionContent struct {
	Parts []visionPart `json:"parts"`
}

type visionPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *visionInlineData `json:"inline_data,omitempty"`
}

type visionInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type visionGenConfig struct {
	ResponseMimeType string `json:"response_mime_type"`
}

type visionResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// receiptPayload is the wire shape the model is asked to produce.
type receiptPayload struct {
	Unreadable bool            `json:"unreadable"`
	Merchant   string          `json:"merchant"`
	Date       string          `json:"date"`
	Total      decimal.Decimal `json:"total"`
	Category   string          `json:"category"`
	Items      []struct {
		Name     string          `json:"name"`
		Price    decimal.Decimal `json:"price"`
		Quantity int             `json:"quantity"`
		Category string          `json:"category"`
	} `json:"items"`
}

// VisionAnalyzer extracts structured receipt data from an image through a
// Gemini-compatible generateContent endpoint.
type VisionAnalyzer struct {
	client *resty.Client
	url    string
	apiKey string
}

func NewVisionAnalyzer(url, apiKey string, timeout time.Duration) (*VisionAnalyzer, error) {
	if timeout <= 0 {
		timeout = defaultAnalyzeTimeout
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return NewVisionAnalyzerWithClient(url, apiKey, client)
}

func NewVisionAnalyzerWithClient(url, apiKey string, client *resty.Client) (*VisionAnalyzer, error) {
	trimmedURL := strings.TrimSpace(url)
	if trimmedURL == "" {
		return nil, fmt.Errorf("vision endpoint is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("vision api key is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultAnalyzeTimeout)
	}
	client.SetRetryCount(0)

	return &VisionAnalyzer{
		client: client,
		url:    trimmedURL,
		apiKey: strings.TrimSpace(apiKey),
	}, nil
}

func (a *VisionAnalyzer) Analyze(ctx context.Context, image domain.BatchImage) (*domain.Receipt, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("analyzer is not initialized")
	}
	if len(image.Data) == 0 {
		return nil, &AnalysisError{
			Kind:    KindMalformedInput,
			Message: "image payload is empty",
		}
	}

	mimeType := strings.TrimSpace(image.MimeType)
	if mimeType == "" {
		mimeType = defaultMimeType
	}

	reqBody := visionRequest{
		Contents: []visionContent{{
			Parts: []visionPart{
				{Text: extractionPrompt},
				{InlineData: &visionInlineData{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(image.Data),
				}},
			},
		}},
		GenerationConfig: visionGenConfig{ResponseMimeType: "application/json"},
	}

	response, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-goog-api-key", a.apiKey).
		SetBody(reqBody).
		Post(a.url)
	if err != nil {
		return nil, &AnalysisError{
			Kind:    classifyTransportError(err),
			Message: "vision request failed",
			Cause:   err,
		}
	}
	if response == nil {
		return nil, &AnalysisError{
			Kind:    KindUnknown,
			Message: "vision provider returned empty response",
		}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, statusError(statusCode, response.Body())
	}

	var vr visionResponse
	if err := json.Unmarshal(response.Body(), &vr); err != nil {
		return nil, &AnalysisError{
			Kind:    KindUnknown,
			Message: "vision response is not valid JSON",
			Cause:   err,
		}
	}

	text := candidateText(&vr)
	if text == "" {
		return nil, &AnalysisError{
			Kind:    KindMalformedInput,
			Message: "vision provider returned no extraction",
		}
	}

	return parseReceiptPayload(text)
}

func classifyTransportError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if kind := ClassifyError(err); kind == KindTimeout {
		return KindTimeout
	}
	return KindUnknown
}

func statusError(statusCode int, body []byte) *AnalysisError {
	kind := KindUnknown
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		kind = KindUnauthenticated
	case statusCode == http.StatusTooManyRequests:
		kind = KindRateLimited
	case statusCode == http.StatusBadRequest:
		kind = KindMalformedInput
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		kind = KindTimeout
	}

	message := fmt.Sprintf("vision provider returned status %d", statusCode)
	var vr visionResponse
	if err := json.Unmarshal(body, &vr); err == nil && vr.Error != nil && strings.TrimSpace(vr.Error.Message) != "" {
		message = fmt.Sprintf("%s: %s", message, strings.TrimSpace(vr.Error.Message))
	}

	return &AnalysisError{
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
	}
}

func candidateText(vr *visionResponse) string {
	var sb strings.Builder
	for _, candidate := range vr.Candidates {
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
		break
	}
	return strings.TrimSpace(sb.String())
}

// parseReceiptPayload tolerates markdown code fences around the JSON, which
// some model versions emit despite the response mime type hint.
func parseReceiptPayload(text string) (*domain.Receipt, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var payload receiptPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, &AnalysisError{
			Kind:    KindMalformedInput,
			Message: "extraction is not valid receipt JSON",
			Cause:   err,
		}
	}
	if payload.Unreadable || strings.TrimSpace(payload.Merchant) == "" {
		return nil, &AnalysisError{
			Kind:    KindMalformedInput,
			Message: "image is not a readable receipt",
		}
	}

	receipt := &domain.Receipt{
		Merchant: strings.TrimSpace(payload.Merchant),
		Date:     strings.TrimSpace(payload.Date),
		Total:    payload.Total,
		Category: strings.TrimSpace(payload.Category),
	}
	for _, item := range payload.Items {
		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		receipt.Items = append(receipt.Items, domain.ReceiptItem{
			Name:     strings.TrimSpace(item.Name),
			Price:    item.Price,
			Quantity: quantity,
			Category: strings.TrimSpace(item.Category),
		})
	}

	if err := receipt.Validate(); err != nil {
		return nil, &AnalysisError{
			Kind:    KindMalformedInput,
			Message: "extraction failed receipt validation",
			Cause:   err,
		}
	}

	return receipt, nil
}
