package testutil

import (
	"context"
	"path/filepath"

	jsonpkg "github.com/ajitpratap0/adsync/pkg/json"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// IntegrationTestSuite provides a fake Ads server, a temp directory and a
// config writer for end-to-end tests
type IntegrationTestSuite struct {
	suite.Suite
	ctx     context.Context
	cancel  context.CancelFunc
	tempDir string
	ads     *AdsServer
}

// SetupTest starts a fresh fake server for every test
func (s *IntegrationTestSuite) SetupTest() {
	s.ctx, s.cancel = context.WithCancel(TestContext(s.T()))
	s.tempDir = s.T().TempDir()
	s.ads = NewAdsServer(s.T())
}

// TearDownTest cancels the test context
func (s *IntegrationTestSuite) TearDownTest() {
	s.cancel()
}

// Context returns the test context
func (s *IntegrationTestSuite) Context() context.Context {
	return s.ctx
}

// TempDir returns the per-test temporary directory
func (s *IntegrationTestSuite) TempDir() string {
	return s.tempDir
}

// Ads returns the fake Google Ads server
func (s *IntegrationTestSuite) Ads() *AdsServer {
	return s.ads
}

// Path returns name inside the temp directory
func (s *IntegrationTestSuite) Path(name string) string {
	return filepath.Join(s.tempDir, name)
}

// WriteFile writes content into the temp directory and returns its path
func (s *IntegrationTestSuite) WriteFile(name, content string) string {
	return WriteFile(s.T(), s.tempDir, name, content)
}

// WriteConfig writes a JSON config pointing at the fake server, with
// overrides merged over the credentials and endpoints, and returns its path
func (s *IntegrationTestSuite) WriteConfig(overrides map[string]interface{}) string {
	cfg := map[string]interface{}{
		"developer_token":     "dev-token",
		"oauth_client_id":     "client",
		"oauth_client_secret": "secret",
		"refresh_token":       "refresh",
		"api": map[string]interface{}{
			"base_url":  s.ads.URL,
			"token_url": s.ads.TokenURL(),
		},
		"observability": map[string]interface{}{
			"log_level": "error",
		},
	}
	for k, v := range overrides {
		cfg[k] = v
	}
	data, err := jsonpkg.Marshal(cfg)
	require.NoError(s.T(), err)
	return s.WriteFile("config.json", string(data))
}
