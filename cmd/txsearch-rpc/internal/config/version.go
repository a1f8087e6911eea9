package config

var (
	// Version is the build release version, set at build time with
	// -ldflags "-X github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/config.Version=..."
	Version = "0.0.0"

	// CommitHash is the build commit hash, set at build time with
	// -ldflags "-X github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/config.CommitHash=..."
	CommitHash = ""
)
