package config

import (
	"fmt"
	"time"
)

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	Database Database `envPrefix:"DB_"`
	Redis    Redis    `envPrefix:"REDIS_"`
	Kafka    Kafka    `envPrefix:"KAFKA_"`
	Auth     Auth     `envPrefix:"AUTH_"`
	Checkout Checkout `envPrefix:"CHECKOUT_"`
	VNPay    VNPay    `envPrefix:"VNPAY_"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`

	// per client IP, applied to the public storefront routes
	RateLimit       float64       `env:"HTTP_RATE_LIMIT" envDefault:"10"`
	RateBurst       int           `env:"HTTP_RATE_BURST" envDefault:"20"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type Database struct {
	Driver          string        `env:"DRIVER" envDefault:"sqlite"` // sqlite, mysql, postgres
	DSN             string        `env:"DSN" envDefault:"storefront.db"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"10"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"50"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"1h"`
}

type Redis struct {
	Addr           string        `env:"ADDR"`
	Password       string        `env:"PASSWORD"`
	DB             int           `env:"DB" envDefault:"0"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
}

type Kafka struct {
	Brokers    []string `env:"BROKERS" envSeparator:","`
	OrderTopic string   `env:"ORDER_TOPIC" envDefault:"order-events"`
}

type Auth struct {
	JWTSecret string `env:"JWT_SECRET"`
}

// Stock reservation policies for gateway orders. COD orders always reserve at checkout.
const (
	ReserveOnCreate  = "on_create"
	ReserveOnConfirm = "on_confirm"
)

type Checkout struct {
	Currency              string        `env:"CURRENCY" envDefault:"VND"`
	ShippingFee           int64         `env:"SHIPPING_FEE" envDefault:"30000"`
	FreeShippingThreshold int64         `env:"FREE_SHIPPING_THRESHOLD" envDefault:"0"`
	CODAutoConfirm        bool          `env:"COD_AUTO_CONFIRM" envDefault:"false"`
	StockReservation      string        `env:"STOCK_RESERVATION" envDefault:"on_create"`
	PendingTTL            time.Duration `env:"PENDING_TTL" envDefault:"15m"`
	SweepInterval         time.Duration `env:"SWEEP_INTERVAL" envDefault:"0s"`
}

type VNPay struct {
	PayURL          string `env:"PAY_URL" envDefault:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	APIURL          string `env:"API_URL" envDefault:"https://sandbox.vnpayment.vn/merchant_webapi/api/transaction"`
	TmnCode         string `env:"TMN_CODE"`
	HashSecret      string `env:"HASH_SECRET"`
	ReturnURL       string `env:"RETURN_URL"`
	Version         string `env:"VERSION" envDefault:"2.1.0"`
	Locale          string `env:"LOCALE" envDefault:"vn"`
	CurrCode        string `env:"CURR_CODE" envDefault:"VND"`
	OrderType       string `env:"ORDER_TYPE" envDefault:"other"`
	TimeZone        string `env:"TIME_ZONE" envDefault:"Asia/Ho_Chi_Minh"`
	MinorUnitFactor int64  `env:"MINOR_UNIT_FACTOR" envDefault:"100"`
}

func (c *Checkout) Validate() error {
	switch c.StockReservation {
	case ReserveOnCreate, ReserveOnConfirm:
	default:
		return fmt.Errorf("unknown stock reservation policy %q", c.StockReservation)
	}
	if c.ShippingFee < 0 || c.FreeShippingThreshold < 0 {
		return fmt.Errorf("shipping fee and free shipping threshold must not be negative")
	}
	return nil
}
