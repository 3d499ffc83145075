package flags

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/tf-state-backend/api"
	"github.com/ruteri/tf-state-backend/common"
	"github.com/ruteri/tf-state-backend/cryptoutils"
	"github.com/urfave/cli/v2"
)

// envPrefix namespaces the environment variables of every flag.
const envPrefix = "TFSTATE_"

func env(name string) []string {
	return []string{envPrefix + name}
}

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) (*api.HTTPServerConfig, error) {
	listenAddr := cCtx.String(ListenAddrFlag.Name)
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	host, _, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address: %w", err)
	}
	hosts := []string{"localhost", "127.0.0.1"}
	if host != "" {
		hosts = append(hosts, host)
	}
	tlsConfig, err := cryptoutils.ServerTLSConfig(
		cCtx.String(TLSCertFileFlag.Name),
		cCtx.String(TLSKeyFileFlag.Name),
		cCtx.Bool(TLSSelfSignedFlag.Name),
		hosts,
	)
	if err != nil {
		return nil, err
	}

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
		MaxBodySize:              cCtx.Int64(MaxBodySizeFlag.Name),
		TLSConfig:                tlsConfig,
	}, nil
}

var LogJsonFlag = &cli.BoolFlag{
	Name:    "log-json",
	Value:   false,
	Usage:   "log in JSON format",
	EnvVars: env("LOG_JSON"),
}
var LogDebugFlag = &cli.BoolFlag{
	Name:    "log-debug",
	Value:   false,
	Usage:   "log debug messages",
	EnvVars: env("LOG_DEBUG"),
}
var LogUidFlag = &cli.BoolFlag{
	Name:    "log-uid",
	Value:   false,
	Usage:   "generate a uuid and add to all log messages",
	EnvVars: env("LOG_UID"),
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "log-service",
		Value:   service,
		Usage:   "add 'service' tag to logs",
		EnvVars: env("LOG_SERVICE"),
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for API",
	EnvVars: env("LISTEN_ADDR"),
}
var PprofFlag = &cli.BoolFlag{
	Name:    "pprof",
	Value:   false,
	Usage:   "enable pprof debug endpoint",
	EnvVars: env("PPROF"),
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:    "drain-seconds",
	Value:   45,
	Usage:   "seconds to wait in drain HTTP request",
	EnvVars: env("DRAIN_SECONDS"),
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	Usage:   "address to listen on for Prometheus metrics",
	EnvVars: env("METRICS_ADDR"),
}
var MaxBodySizeFlag = &cli.Int64Flag{
	Name:    "max-body-size",
	Value:   api.DefaultMaxBodySize,
	Usage:   "maximum request body size in bytes",
	EnvVars: env("MAX_BODY_SIZE"),
}

var BlobStoreFlag = &cli.StringSliceFlag{
	Name:    "blob-store",
	Value:   cli.NewStringSlice("file://./data/blobs"),
	Usage:   "blob store URI (file://, s3://, minio://, vault://, ipfs://, mem://); repeat to mirror writes",
	EnvVars: env("BLOB_STORE"),
}
var MetadataStoreFlag = &cli.StringFlag{
	Name:    "metadata-store",
	Value:   "bolt://./data/metadata.db",
	Usage:   "metadata store URI (postgres://, dynamodb://, bolt://, mem://)",
	EnvVars: env("METADATA_STORE"),
}
var MaxBackupsFlag = &cli.IntFlag{
	Name:    "max-backups",
	Value:   0,
	Usage:   "backup depth to store at startup; 0 keeps the stored value",
	EnvVars: env("MAX_BACKUPS"),
}
var EnforceLockFlag = &cli.BoolFlag{
	Name:    "enforce-lock",
	Value:   false,
	Usage:   "reject state writes to locked states that do not carry the lock ID",
	EnvVars: env("ENFORCE_LOCK"),
}
var AuthTokenFlag = &cli.StringFlag{
	Name:    "auth-token",
	Usage:   "bearer token granting access to every project",
	EnvVars: env("AUTH_TOKEN"),
}
var CredentialsFileFlag = &cli.StringFlag{
	Name:    "credentials-file",
	Usage:   "YAML file with basic-auth users and their projects",
	EnvVars: env("CREDENTIALS_FILE"),
}

var TLSCertFileFlag = &cli.StringFlag{
	Name:    "tls-cert",
	Usage:   "PEM certificate file for serving HTTPS",
	EnvVars: env("TLS_CERT"),
}

var TLSKeyFileFlag = &cli.StringFlag{
	Name:    "tls-key",
	Usage:   "PEM private key file for serving HTTPS",
	EnvVars: env("TLS_KEY"),
}

var TLSSelfSignedFlag = &cli.BoolFlag{
	Name:    "tls-self-signed",
	Usage:   "serve HTTPS with a generated self-signed certificate when no key pair is given",
	EnvVars: env("TLS_SELF_SIGNED"),
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

var ServerFlags = []cli.Flag{
	ListenAddrFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
	MaxBodySizeFlag,
	BlobStoreFlag,
	MetadataStoreFlag,
	MaxBackupsFlag,
	EnforceLockFlag,
	AuthTokenFlag,
	CredentialsFileFlag,
	TLSCertFileFlag,
	TLSKeyFileFlag,
	TLSSelfSignedFlag,
}
