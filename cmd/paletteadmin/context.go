package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/jo-hoe/palettebox/internal/core"
)

type commandContext struct {
	configFlag *string
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) configPath() string {
	if c.configFlag != nil {
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			return path
		}
	}
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return filepath.Join(".", "config.yaml")
}

// withService opens the stores for the duration of fn so --help never touches the database
func (c *commandContext) withService(ctx context.Context, fn func(*core.CoreService) error) (err error) {
	config, err := core.LoadConfig(c.configPath())
	if err != nil {
		return err
	}
	service, err := core.NewCoreService(ctx, config)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, service.Close())
	}()
	return fn(service)
}
