// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/descwallet/chainstate"
	"github.com/btcsuite/descwallet/internal/cfgutil"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/btcsuite/descwallet/wallet"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "descwallet.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "descwallet.log"
	defaultNetwork        = "bitcoin"
	defaultTemplate       = "bip84"
	defaultMaxLogFileKB   = 10 * 1024
	defaultMaxLogFiles    = 3
)

var (
	appHomeDir        = btcutil.AppDataDir("descwallet", false)
	defaultConfigFile = filepath.Join(appHomeDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(appHomeDir, defaultLogDirname)

	defaultFeeRate = btcunit.DefaultRelayFeeRate
	defaultMaxFee  = btcutil.Amount(1_000_000)
)

type config struct {
	// General application behavior
	ConfigFile *cfgutil.ExplicitString `short:"C" long:"configfile" description:"Path to configuration file"`
	AppDataDir *cfgutil.ExplicitString `short:"A" long:"appdata" description:"Application data directory; wallets live in a per-network subdirectory"`
	LogDir     string                  `long:"logdir" description:"Directory to log output"`
	DebugLevel string                  `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	Network    string                  `long:"network" description:"Network of the wallet {bitcoin, testnet, signet, regtest}"`
	DBTimeout  time.Duration           `long:"dbtimeout" description:"How long to wait for the wallet database lock"`

	// Wallet options
	External       string `long:"external" description:"Receiving descriptor; a private descriptor enables signing"`
	Internal       string `long:"internal" description:"Change descriptor; a private descriptor enables signing"`
	Template       string `long:"template" description:"Descriptor template used by create when no descriptors are given {bip44, bip49, bip84, bip86}"`
	Lookahead      uint32 `long:"lookahead" description:"Number of scripts derived past the last revealed index"`
	TrustReceived  bool   `long:"trustreceived" description:"Count unconfirmed payments from others as trusted pending balance"`
	ShowPrivateKey bool   `long:"showprivate" description:"Print private descriptors created by the create command"`

	// Transaction creation options
	FeeRate *cfgutil.FeeRateFlag `long:"feerate" description:"Fee rate of created transactions in sat/vB"`
	MaxFee  *cfgutil.AmountFlag  `long:"maxfee" description:"Refuse to create transactions paying a higher absolute fee in BTC; 0 disables the check"`
	Sign    bool                 `long:"sign" description:"Sign created transactions and print them raw instead of as a PSBT"`

	net netparams.Network
}

// walletConfig returns the wallet options of the config.
func (c *config) walletConfig() *wallet.Config {
	return &wallet.Config{
		Lookahead: c.Lookahead,
		Policy: chainstate.BalancePolicy{
			TrustUnconfirmedExternal: c.TrustReceived,
		},
	}
}

// cleanAndExpandPath expands environement variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(appHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but they variables can still be expanded via POSIX-style
	// $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels applies a --debuglevel value. A bare level sets
// every subsystem, otherwise the value is a comma separated list of
// SUBSYS=level pairs. No level changes unless the whole value is valid.
func parseAndSetDebugLevels(debugLevel string) error {
	if !strings.ContainsAny(debugLevel, ",=") {
		if !validLogLevel(debugLevel) {
			return fmt.Errorf("invalid debug level %q", debugLevel)
		}

		setLogLevels(debugLevel)
		return nil
	}

	levels := make(map[string]string)
	for _, pair := range strings.Split(debugLevel, ",") {
		subsysID, level, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("debug level pair %q is not of the "+
				"form SUBSYS=level", pair)
		}
		if _, exists := subsystemLoggers[subsysID]; !exists {
			return fmt.Errorf("unknown subsystem %q, supported "+
				"subsystems are %v", subsysID,
				supportedSubsystems())
		}
		if !validLogLevel(level) {
			return fmt.Errorf("invalid debug level %q for %s",
				level, subsysID)
		}
		levels[subsysID] = level
	}

	for subsysID, level := range levels {
		setLogLevel(subsysID, level)
	}

	return nil
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The remaining arguments name the command to run and its parameters.
func loadConfig() (*config, []string, error) {
	cfg := config{
		ConfigFile: cfgutil.NewExplicitString(defaultConfigFile),
		AppDataDir: cfgutil.NewExplicitString(appHomeDir),
		LogDir:     defaultLogDir,
		DebugLevel: defaultLogLevel,
		Network:    defaultNetwork,
		DBTimeout:  persist.DefaultDBTimeout,
		Template:   defaultTemplate,
		Lookahead:  wallet.DefaultLookahead,
		FeeRate:    cfgutil.NewFeeRateFlag(defaultFeeRate),
		MaxFee:     cfgutil.NewAmountFlag(defaultMaxFee),
	}

	// Pre-parse the command line options to see if an alternative config
	// file or data directory was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		return nil, nil, err
	}

	// A config file in the application data directory takes precedence
	// over the default location when only the directory was changed.
	configFilePath := preCfg.ConfigFile.Value
	if !preCfg.ConfigFile.ExplicitlySet() &&
		preCfg.AppDataDir.ExplicitlySet() {

		configFilePath = filepath.Join(
			cleanAndExpandPath(preCfg.AppDataDir.Value),
			defaultConfigFilename,
		)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(
		cleanAndExpandPath(configFilePath),
	)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		return nil, nil, err
	}

	cfg.net, err = netparams.ParseNetwork(cfg.Network)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// Logs of different networks go to different files.
	cfg.LogDir = filepath.Join(cleanAndExpandPath(cfg.LogDir),
		cfg.net.String())
	cfg.AppDataDir.Value = cleanAndExpandPath(cfg.AppDataDir.Value)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename),
		defaultMaxLogFileKB, defaultMaxLogFiles)

	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}
