package app

import (
	"errors"
	"flag"
	"os"
)

type Config struct {
	DBPath        string
	SessionID     int64
	AnomaliesOnly bool
	Limit         int
	ShowEvents    bool
}

func NewConfig() *Config {
	return &Config{}
}

func NewConfigFromCLI() (*Config, error) {
	return newConfigFromArgs(flag.CommandLine, os.Args[1:])
}

func newConfigFromArgs(fs *flag.FlagSet, args []string) (*Config, error) {
	c := NewConfig()

	fs.StringVar(&c.DBPath, "db", "", "Path to the session journal database")
	fs.Int64Var(&c.SessionID, "s", 0, "Session ID to summarize (0 lists sessions)")
	fs.BoolVar(&c.AnomaliesOnly, "anomalies", false, "Show anomalous cycles only")
	fs.IntVar(&c.Limit, "limit", 0, "Maximum number of cycles to show (0 shows all)")
	fs.BoolVar(&c.ShowEvents, "events", false, "Include the phase trail of each cycle")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var err error
	if c.DBPath == "" {
		err = errors.New("db path is required")
	} else if c.SessionID < 0 {
		err = errors.New("session id must not be negative")
	} else if c.Limit < 0 {
		err = errors.New("limit must not be negative")
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}
	return c, nil
}
