package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	symbolpkg "tickerd/internal/pkg/symbol"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	defaultKrakenREST  = "https://api.kraken.com"
	krakenAddOrderPath = "/0/private/AddOrder"
)

// KrakenExchange places orders against the Kraken REST API. Requests
// are signed with HMAC-SHA512 over path + SHA256(nonce + postdata); the
// key travels in the API-Key header and the secret never leaves this
// struct (it is excluded from every log and raw payload).
type KrakenExchange struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	nonceFn    func() int64
}

type KrakenConfig struct {
	APIKey      string
	APISecret   string
	BaseURL     string
	HTTPTimeout time.Duration
}

func NewKraken(cfg KrakenConfig) *KrakenExchange {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultKrakenREST
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KrakenExchange{
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		httpClient: &http.Client{Timeout: timeout},
		nonceFn:    func() int64 { return time.Now().UnixNano() / int64(time.Microsecond) },
	}
}

func (k *KrakenExchange) Name() string { return "kraken" }

func (k *KrakenExchange) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	pair := symbolpkg.Kraken.ToExchange(req.Symbol)
	if pair == "" {
		return nil, fmt.Errorf("kraken: invalid symbol %q", req.Symbol)
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("kraken: non-positive volume %s", req.Quantity)
	}

	params := url.Values{}
	params.Set("pair", pair)
	params.Set("type", string(req.Side))
	params.Set("volume", req.Quantity.String())
	params.Set("cl_ord_id", req.IdempotencyKey)
	switch req.Type {
	case OrderTypeLimit:
		if req.Price.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("kraken: limit order requires a price")
		}
		params.Set("ordertype", "limit")
		params.Set("price", req.Price.String())
		tif := req.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		params.Set("timeinforce", tif)
	default:
		params.Set("ordertype", "market")
	}

	body, err := k.doSigned(ctx, krakenAddOrderPath, params)
	if err != nil {
		return nil, err
	}

	parsed := gjson.ParseBytes(body)
	if errs := parsed.Get("error"); errs.IsArray() && len(errs.Array()) > 0 {
		return nil, NewAPIError(errs.Array()[0].String())
	}

	result := parsed.Get("result")
	out := &OrderResult{
		OrderID:     result.Get("txid.0").String(),
		Status:      "ok",
		Price:       req.Price,
		ExecutedQty: req.Quantity,
		RawRequest:  redactedQuery(params),
		RawResponse: string(body),
	}
	// AddOrder acks without fill detail; descr.price is only set for
	// limit orders.
	if p := result.Get("descr.price").Float(); p > 0 {
		out.Price = decimal.NewFromFloat(p)
	}
	return out, nil
}

// doSigned performs one signed private call. Nonce is microseconds so a
// retried call after clock skew still moves forward.
func (k *KrakenExchange) doSigned(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if k.apiKey == "" || k.apiSecret == "" {
		return nil, fmt.Errorf("kraken: API key/secret required")
	}
	nonce := strconv.FormatInt(k.nonceFn(), 10)
	params.Set("nonce", nonce)
	encoded := params.Encode()

	sig, err := krakenSign(path, nonce, encoded, k.apiSecret)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+path, strings.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", k.apiKey)
	req.Header.Set("API-Sign", sig)

	res, err := k.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, NewAPIError(fmt.Sprintf("kraken %s status %d: %s", path, res.StatusCode, string(body)))
	}
	return body, nil
}

func krakenSign(path, nonce, postdata, secret string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("kraken: secret is not valid base64")
	}
	inner := sha256.Sum256([]byte(nonce + postdata))
	mac := hmac.New(sha512.New, decoded)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// redactedQuery drops the nonce so the persisted request payload stays
// replay-safe; credentials never enter params in the first place.
func redactedQuery(params url.Values) string {
	cp := url.Values{}
	for key, vals := range params {
		if key == "nonce" {
			continue
		}
		for _, v := range vals {
			cp.Add(key, v)
		}
	}
	return cp.Encode()
}
