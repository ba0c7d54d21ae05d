package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envProd = "PROD"

type Config struct {
	Env              string // DEV (local; default), TEST, QA, PROD
	Debug            bool
	TestMode         bool
	Build            string
	AppName          string
	SecretKey        string
	FrontendBaseURL  string
	SendgridApiKey   string
	RollbarToken     string
	WorkDir          string
	defaultFromEmail string

	Server struct {
		Host                      string
		Port                      string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	Database struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	Auth struct {
		OTPTTL          time.Duration
		PasswordMinLen  int
		StrictPasswords bool
		exposeOTP       bool
	}

	Mail struct {
		SendTimeout time.Duration
	}

	Storage struct {
		MediaRoot     string
		MaxAvatarSize int64
	}

	Redis struct {
		URL         string
		OTPAttempts int
		OTPWindow   time.Duration
	}
}

func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "develop")
	v.SetDefault("appName", "Shule")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("frontendBaseURL", "http://localhost:5173")
	v.SetDefault("defaultFromEmail", "Shule <noreply@localhost>")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.debugHost", "0.0.0.0:4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 30*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "shule")
	v.SetDefault("database.user", "shule")
	v.SetDefault("database.password", "shule")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("auth.otpTTL", 5*time.Minute)
	v.SetDefault("auth.passwordMinLen", 6)
	v.SetDefault("auth.strictPasswords", false)
	v.SetDefault("auth.exposeOTP", false)

	v.SetDefault("mail.sendTimeout", 10*time.Second)

	v.SetDefault("storage.mediaRoot", "media")
	v.SetDefault("storage.maxAvatarSize", int64(2<<20))

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.otpAttempts", 5)
	v.SetDefault("redis.otpWindow", 5*time.Minute)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	wd := Getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:              env,
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		Build:            v.GetString("build"),
		AppName:          v.GetString("appName"),
		SecretKey:        v.GetString("secretKey"),
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		WorkDir:          wd,
		defaultFromEmail: v.GetString("defaultFromEmail"),
	}

	conf.Server.Host = v.GetString("server.host")
	conf.Server.Port = v.GetString("server.port")
	conf.Server.DebugHost = v.GetString("server.debugHost")
	conf.Server.ShutdownTimeout = v.GetDuration("server.shutdownTimeout")
	conf.Server.JWTExpirationDelta = v.GetDuration("server.jwtExpirationDelta")
	conf.Server.JWTRefreshExpirationDelta = v.GetDuration("server.jwtRefreshExpirationDelta")

	conf.Database.Engine = v.GetString("database.engine")
	conf.Database.Host = v.GetString("database.host")
	conf.Database.Port = v.GetString("database.port")
	conf.Database.Name = v.GetString("database.name")
	conf.Database.User = v.GetString("database.user")
	conf.Database.Password = v.GetString("database.password")
	conf.Database.AdminUser = v.GetString("database.adminUser")
	conf.Database.AdminPassword = v.GetString("database.adminPassword")
	conf.Database.DisableTLS = v.GetBool("database.disableTLS")

	conf.Auth.OTPTTL = v.GetDuration("auth.otpTTL")
	conf.Auth.PasswordMinLen = v.GetInt("auth.passwordMinLen")
	conf.Auth.StrictPasswords = v.GetBool("auth.strictPasswords")
	conf.Auth.exposeOTP = v.GetBool("auth.exposeOTP")

	conf.Mail.SendTimeout = v.GetDuration("mail.sendTimeout")

	conf.Storage.MediaRoot = v.GetString("storage.mediaRoot")
	conf.Storage.MaxAvatarSize = v.GetInt64("storage.maxAvatarSize")

	conf.Redis.URL = v.GetString("redis.url")
	conf.Redis.OTPAttempts = v.GetInt("redis.otpAttempts")
	conf.Redis.OTPWindow = v.GetDuration("redis.otpWindow")

	return conf
}

// NewTestConfig returns a Config suitable for tests: no files or env vars are read.
func NewTestConfig() *Config {
	conf := &Config{
		Env:              "TEST",
		TestMode:         true,
		Build:            "test",
		AppName:          "Shule",
		SecretKey:        "secret",
		FrontendBaseURL:  "http://localhost:5173",
		defaultFromEmail: "Shule <noreply@localhost>",
	}
	conf.Server.JWTExpirationDelta = 10 * time.Minute
	conf.Server.JWTRefreshExpirationDelta = 4 * time.Hour
	conf.Auth.OTPTTL = 5 * time.Minute
	conf.Auth.PasswordMinLen = 6
	conf.Mail.SendTimeout = time.Second
	conf.Storage.MaxAvatarSize = 2 << 20
	conf.Redis.OTPAttempts = 5
	conf.Redis.OTPWindow = 5 * time.Minute
	return conf
}

func (c *Config) IsProduction() bool { return c.Env == envProd }

// ExposeOTP reports whether raw OTP codes may be echoed back to API clients.
// Never true in PROD, whatever the flag says.
func (c *Config) ExposeOTP() bool { return c.Auth.exposeOTP && !c.IsProduction() }

// SetExposeOTP toggles the dev-only OTP echo flag.
func (c *Config) SetExposeOTP(expose bool) { c.Auth.exposeOTP = expose }

func (c *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: "noreply@localhost"}
	}
	return *addr
}

func (c *Config) ServerAddress() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

func (c *Config) DatabaseAddress() string {
	return net.JoinHostPort(c.Database.Host, c.Database.Port)
}
