package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odyssey-erp/odyssey-iam/internal/app"
	_ "github.com/odyssey-erp/odyssey-iam/testing"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	assert.True(t, app.InTestMode())
	assert.NotPanics(t, main)
}

func TestConfigLoadsWithTestSecrets(t *testing.T) {
	cfg, err := app.LoadConfig()
	assert.NoError(t, err)
	assert.NotEqual(t, cfg.TokenSecret, cfg.GlobalSecret)
}
