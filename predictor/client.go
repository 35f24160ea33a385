package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantfold/paperbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PREDICTION SERVICE CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// HTTP client for the external forecast service:
//   GET  /predict/{symbol}  -> price prediction with signal and confidence
//   POST /train/{symbol}    -> retrain the symbol's model
//
// Training timestamps are tracked client-side so the orchestrator can decide
// when a model has gone stale.
//
// ═══════════════════════════════════════════════════════════════════════════════

const requestTimeout = 30 * time.Second

// Client talks to the prediction service.
type Client struct {
	http *resty.Client

	mu      sync.RWMutex
	trained map[string]time.Time

	now func() time.Time
}

// New creates a client for the prediction service at baseURL.
func New(baseURL string) *Client {
	http := resty.New()
	http.SetBaseURL(strings.TrimRight(baseURL, "/"))
	http.SetTimeout(requestTimeout)

	return &Client{
		http:    http,
		trained: make(map[string]time.Time),
		now:     time.Now,
	}
}

// predictionResponse is the service's forecast payload. The service reports
// operational failures inside a 200 response, in the error field.
type predictionResponse struct {
	Symbol         string  `json:"symbol"`
	CurrentPrice   float64 `json:"current_price"`
	PredictedPrice float64 `json:"predicted_price"`
	PercentChange  float64 `json:"percent_change"`
	Confidence     float64 `json:"confidence"`
	Signal         string  `json:"signal"`
	AccuracyScore  float64 `json:"accuracy_score"`
	Volatility     float64 `json:"volatility"`
	HasVolatility  bool    `json:"-"`
	Error          string  `json:"error"`
}

// UnmarshalJSON marks whether volatility was present, since zero is a
// meaningful volatility value.
func (p *predictionResponse) UnmarshalJSON(data []byte) error {
	type alias predictionResponse
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	*p = predictionResponse(a)
	_, p.HasVolatility = probe["volatility"]
	return nil
}

// Forecast fetches the current prediction for a symbol.
func (c *Client) Forecast(ctx context.Context, symbol string) (*types.Forecast, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	var body predictionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/predict/" + symbol)
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", symbol, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("predict %s: service returned %s", symbol, resp.Status())
	}
	if body.Error != "" {
		return nil, fmt.Errorf("predict %s: %s", symbol, body.Error)
	}

	f := body.toForecast(symbol)
	f.TrainedAt = c.lastTrainedOrZero(symbol)
	return f, nil
}

// Retrain asks the service to rebuild the symbol's model and records when
// it finished.
func (c *Client) Retrain(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	var body struct {
		Error string `json:"error"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		Post("/train/" + symbol)
	if err != nil {
		return fmt.Errorf("train %s: %w", symbol, err)
	}
	if resp.IsError() {
		return fmt.Errorf("train %s: service returned %s", symbol, resp.Status())
	}
	if body.Error != "" {
		return fmt.Errorf("train %s: %s", symbol, body.Error)
	}

	c.mu.Lock()
	c.trained[symbol] = c.now()
	c.mu.Unlock()

	log.Info().Str("symbol", symbol).Msg("🎓 Model retrained")
	return nil
}

// LastTrained reports when the symbol's model was last trained through this
// client. ok is false for a symbol never trained here.
func (c *Client) LastTrained(symbol string) (time.Time, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.trained[symbol]
	return t, ok
}

func (c *Client) lastTrainedOrZero(symbol string) time.Time {
	t, _ := c.LastTrained(symbol)
	return t
}

func (p predictionResponse) toForecast(symbol string) *types.Forecast {
	f := &types.Forecast{
		Symbol:         symbol,
		CurrentPrice:   decimal.NewFromFloat(p.CurrentPrice),
		PredictedPrice: decimal.NewFromFloat(p.PredictedPrice),
		PercentChange:  decimal.NewFromFloat(p.PercentChange),
		Confidence:     decimal.NewFromFloat(p.Confidence),
		Signal:         strings.ToUpper(p.Signal),
		ModelAccuracy:  decimal.NewFromFloat(p.AccuracyScore),
	}
	if p.HasVolatility {
		f.Volatility.Valid = true
		f.Volatility.Decimal = decimal.NewFromFloat(p.Volatility)
	}
	return f
}
