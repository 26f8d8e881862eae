package config

import (
	"flag"
	"os"
	"time"

	"github.com/mprihoda/geosync/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-o string   storage root directory
//	-q string   trash (quarantine) root directory
//	-m int      maximum chunk size, megabytes
//	-x int      transaction expiration, minutes
//	-f string   geodiff binary path
//	-l string   log file path
//
// Settings without a flag (S3 archive, retention tuning) are reachable via
// the JSON config file only.
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers in minutes and then converted
//     to time.Duration values.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-o", "-q", "-m", "-x", "-f", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.StorageRoot, "o", config.StorageRoot, "storage root directory")
	fs.StringVar(&config.TrashRoot, "q", config.TrashRoot, "trash root directory")
	fs.StringVar(&config.GeodiffBin, "f", config.GeodiffBin, "geodiff binary path")
	fs.StringVar(&config.LogFile, "l", config.LogFile, "log file path")

	maxChunkMB := fs.Int64("m", config.MaxChunkSize/(1024*1024), "max chunk size (in megabytes)")
	transactionExpiration := fs.Int("x", int(config.TransactionExpiration.Minutes()), "transaction expiration (in minutes)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.MaxChunkSize = *maxChunkMB * 1024 * 1024
	config.TransactionExpiration = time.Duration(*transactionExpiration) * time.Minute
}
