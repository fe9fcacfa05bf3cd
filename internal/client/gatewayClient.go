package client

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"storefront/internal/config"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	vnpDateLayout   = "20060102150405"
	vnpSecureHash   = "vnp_SecureHash"
	vnpHashType     = "vnp_SecureHashType"
	vnpParamPrefix  = "vnp_"
	vnpSuccessCode  = "00"
	vnpCommandPay   = "pay"
	vnpCommandQuery = "querydr"
)

var ErrMalformedCallback = errors.New("malformed gateway callback")

type GatewayClient interface {
	BuildRedirect(req RedirectRequest) (string, error)
	VerifyCallback(params url.Values) (*CallbackResult, error)
	QueryTransaction(ctx context.Context, req QueryRequest) (*QueryResult, error)
	ToMinorUnits(amount int64) int64
}

type RedirectRequest struct {
	TxnRef    string
	Amount    int64 // display units
	OrderInfo string
	IPAddr    string
	CreatedAt time.Time
	ExpireAt  time.Time
	BankCode  string
	Locale    string
}

type CallbackResult struct {
	TransactionCode      string
	Amount               int64 // display units
	MinorAmount          int64
	ResponseCode         string
	TransactionStatus    string
	BankCode             string
	GatewayTransactionNo string
	PayDate              string
	SignatureValid       bool
	Raw                  map[string]string
}

func (r *CallbackResult) Success() bool {
	if r.ResponseCode != vnpSuccessCode {
		return false
	}
	return r.TransactionStatus == "" || r.TransactionStatus == vnpSuccessCode
}

type QueryRequest struct {
	TxnRef          string
	OrderInfo       string
	TransactionDate time.Time // vnp_CreateDate of the original payment request
	IPAddr          string
}

type QueryResult struct {
	ResponseCode         string
	Message              string
	TransactionCode      string
	TransactionStatus    string
	Amount               int64
	MinorAmount          int64
	BankCode             string
	GatewayTransactionNo string
	PayDate              string
	SignatureValid       bool
	Raw                  map[string]string
}

// Found reports whether the gateway knows the transaction.
func (r *QueryResult) Found() bool {
	return r.ResponseCode == vnpSuccessCode
}

func (r *QueryResult) Paid() bool {
	return r.Found() && r.TransactionStatus == vnpSuccessCode
}

// Pending reports the gateway still waiting on the payer.
func (r *QueryResult) Pending() bool {
	return r.Found() && r.TransactionStatus == "01"
}

type vnpayClientImpl struct {
	httpClient *http.Client
	cfg        config.VNPay
	loc        *time.Location
}

func NewGatewayClient(cfg *config.VNPay) (GatewayClient, error) {
	if cfg.TmnCode == "" {
		return nil, fmt.Errorf("vnpay terminal code is required")
	}
	if cfg.HashSecret == "" {
		return nil, fmt.Errorf("vnpay hash secret is required")
	}
	if cfg.MinorUnitFactor <= 0 {
		return nil, fmt.Errorf("vnpay minor unit factor must be positive")
	}
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load gateway time zone: %w", err)
	}

	return &vnpayClientImpl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cfg: *cfg,
		loc: loc,
	}, nil
}

func (c *vnpayClientImpl) ToMinorUnits(amount int64) int64 {
	return amount * c.cfg.MinorUnitFactor
}

func (c *vnpayClientImpl) BuildRedirect(req RedirectRequest) (string, error) {
	if req.TxnRef == "" {
		return "", fmt.Errorf("missing txn ref")
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("amount must be positive")
	}
	locale := req.Locale
	if locale == "" {
		locale = c.cfg.Locale
	}

	params := url.Values{}
	params.Set("vnp_Version", c.cfg.Version)
	params.Set("vnp_Command", vnpCommandPay)
	params.Set("vnp_TmnCode", c.cfg.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(c.ToMinorUnits(req.Amount), 10))
	params.Set("vnp_CurrCode", c.cfg.CurrCode)
	params.Set("vnp_TxnRef", req.TxnRef)
	params.Set("vnp_OrderInfo", req.OrderInfo)
	params.Set("vnp_OrderType", c.cfg.OrderType)
	params.Set("vnp_Locale", locale)
	params.Set("vnp_ReturnUrl", c.cfg.ReturnURL)
	params.Set("vnp_IpAddr", req.IPAddr)
	params.Set("vnp_CreateDate", req.CreatedAt.In(c.loc).Format(vnpDateLayout))
	if !req.ExpireAt.IsZero() {
		params.Set("vnp_ExpireDate", req.ExpireAt.In(c.loc).Format(vnpDateLayout))
	}
	if req.BankCode != "" {
		params.Set("vnp_BankCode", req.BankCode)
	}

	query := EncodeGatewayParams(params)
	signature := SignGatewayParams(c.cfg.HashSecret, params)

	return c.cfg.PayURL + "?" + query + "&" + vnpSecureHash + "=" + signature, nil
}

func (c *vnpayClientImpl) VerifyCallback(params url.Values) (*CallbackResult, error) {
	given := params.Get(vnpSecureHash)

	signed := url.Values{}
	raw := make(map[string]string, len(params))
	for k := range params {
		v := params.Get(k)
		raw[k] = v
		if k == vnpSecureHash || k == vnpHashType {
			continue
		}
		if strings.HasPrefix(k, vnpParamPrefix) && v != "" {
			signed.Set(k, v)
		}
	}

	result := &CallbackResult{
		TransactionCode:      params.Get("vnp_TxnRef"),
		ResponseCode:         params.Get("vnp_ResponseCode"),
		TransactionStatus:    params.Get("vnp_TransactionStatus"),
		BankCode:             params.Get("vnp_BankCode"),
		GatewayTransactionNo: params.Get("vnp_TransactionNo"),
		PayDate:              params.Get("vnp_PayDate"),
		Raw:                  raw,
	}

	expected := SignGatewayParams(c.cfg.HashSecret, signed)
	result.SignatureValid = given != "" && hmac.Equal([]byte(expected), []byte(strings.ToLower(given)))
	if !result.SignatureValid {
		return result, nil
	}

	if result.TransactionCode == "" {
		return result, fmt.Errorf("%w: missing vnp_TxnRef", ErrMalformedCallback)
	}

	amount, minor, err := c.fromMinorUnits(params.Get("vnp_Amount"))
	if err != nil {
		return result, err
	}
	result.Amount = amount
	result.MinorAmount = minor

	return result, nil
}

func (c *vnpayClientImpl) QueryTransaction(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	requestID := strings.ReplaceAll(uuid.NewString(), "-", "")[:32]
	createDate := time.Now().In(c.loc).Format(vnpDateLayout)
	transactionDate := req.TransactionDate.In(c.loc).Format(vnpDateLayout)

	hashData := strings.Join([]string{
		requestID, c.cfg.Version, vnpCommandQuery, c.cfg.TmnCode, req.TxnRef,
		transactionDate, createDate, req.IPAddr, req.OrderInfo,
	}, "|")

	payload := map[string]string{
		"vnp_RequestId":       requestID,
		"vnp_Version":         c.cfg.Version,
		"vnp_Command":         vnpCommandQuery,
		"vnp_TmnCode":         c.cfg.TmnCode,
		"vnp_TxnRef":          req.TxnRef,
		"vnp_OrderInfo":       req.OrderInfo,
		"vnp_TransactionDate": transactionDate,
		"vnp_CreateDate":      createDate,
		"vnp_IpAddr":          req.IPAddr,
		"vnp_SecureHash":      hmacSHA512(c.cfg.HashSecret, hashData),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal querydr payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("create querydr request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("querydr request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("querydr failed: status=%d body=%s", resp.StatusCode, string(b))
	}

	var res map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode querydr response: %w", err)
	}

	result := &QueryResult{
		ResponseCode:         res["vnp_ResponseCode"],
		Message:              res["vnp_Message"],
		TransactionCode:      res["vnp_TxnRef"],
		TransactionStatus:    res["vnp_TransactionStatus"],
		BankCode:             res["vnp_BankCode"],
		GatewayTransactionNo: res["vnp_TransactionNo"],
		PayDate:              res["vnp_PayDate"],
		Raw:                  res,
	}

	responseHashData := strings.Join([]string{
		res["vnp_ResponseId"], res["vnp_Command"], res["vnp_ResponseCode"], res["vnp_Message"],
		res["vnp_TmnCode"], res["vnp_TxnRef"], res["vnp_Amount"], res["vnp_BankCode"],
		res["vnp_PayDate"], res["vnp_TransactionNo"], res["vnp_TransactionType"],
		res["vnp_TransactionStatus"], res["vnp_OrderInfo"], res["vnp_PromotionCode"],
		res["vnp_PromotionAmount"],
	}, "|")
	expected := hmacSHA512(c.cfg.HashSecret, responseHashData)
	result.SignatureValid = hmac.Equal([]byte(expected), []byte(strings.ToLower(res["vnp_SecureHash"])))
	if !result.SignatureValid || !result.Found() {
		return result, nil
	}

	amount, minor, err := c.fromMinorUnits(res["vnp_Amount"])
	if err != nil {
		return result, err
	}
	result.Amount = amount
	result.MinorAmount = minor

	return result, nil
}

func (c *vnpayClientImpl) fromMinorUnits(raw string) (int64, int64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: vnp_Amount %q", ErrMalformedCallback, raw)
	}
	if !d.IsInteger() || d.IsNegative() {
		return 0, 0, fmt.Errorf("%w: vnp_Amount %q is not a non-negative integer", ErrMalformedCallback, raw)
	}
	display := d.Div(decimal.NewFromInt(c.cfg.MinorUnitFactor))
	if !display.IsInteger() {
		return 0, 0, fmt.Errorf("%w: vnp_Amount %q is not a whole display amount", ErrMalformedCallback, raw)
	}
	return display.IntPart(), d.IntPart(), nil
}

// EncodeGatewayParams renders params sorted by key using the gateway's
// form encoding (alphanumerics and ".-*_" kept, space as '+', the rest %XX).
func EncodeGatewayParams(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(formEscape(k))
		b.WriteByte('=')
		b.WriteString(formEscape(params.Get(k)))
	}
	return b.String()
}

// SignGatewayParams returns the lowercase hex HMAC-SHA512 of the encoded params.
func SignGatewayParams(secret string, params url.Values) string {
	return hmacSHA512(secret, EncodeGatewayParams(params))
}

func hmacSHA512(secret, data string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func formEscape(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9',
			ch == '.', ch == '-', ch == '*', ch == '_':
			b.WriteByte(ch)
		case ch == ' ':
			b.WriteByte('+')
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[ch>>4])
			b.WriteByte(hexDigits[ch&0x0f])
		}
	}
	return b.String()
}
