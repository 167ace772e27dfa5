package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"virtual-ledger/internal/config"
	"virtual-ledger/internal/server"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

type IntegrationTestSuite struct {
	suite.Suite
	postgresContainer *postgres.PostgresContainer
	serverInstance    *server.Server
	cfg               *config.Config
	baseURL           string
	client            *http.Client

	accountA string
	accountB string
}

func (suite *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("virtual_ledger"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		suite.T().Fatalf("Failed to start postgres container: %s", err)
	}
	suite.postgresContainer = postgresContainer

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		suite.T().Fatalf("Failed to get container host: %s", err)
	}
	port, err := postgresContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		suite.T().Fatalf("Failed to get mapped port: %s", err)
	}

	suite.cfg = &config.Config{
		ServerPort:           "0", // Let OS choose a free port
		StateBackend:         config.BackendPostgres,
		DBHost:               host,
		DBPort:               port.Port(),
		DBUser:               "postgres",
		DBPassword:           "password",
		DBName:               "virtual_ledger",
		EnforceActiveFlag:    true,
		InterestDueTime:      time.Hour,
		InterestPeriod:       time.Hour,
		ReminderPollInterval: time.Second,
		EntityIdleTimeout:    time.Minute,
	}

	suite.client = &http.Client{
		Timeout: 30 * time.Second,
	}

	// Start the application server; it applies its own migrations
	if err := suite.startApplicationServer(); err != nil {
		suite.T().Fatalf("Failed to start application server: %s", err)
	}
}

func (suite *IntegrationTestSuite) startApplicationServer() error {
	serverInstance, port, err := server.StartServer(suite.cfg)
	if err != nil {
		return err
	}

	suite.serverInstance = serverInstance
	suite.baseURL = "http://localhost:" + port

	return suite.waitForServerReady()
}

func (suite *IntegrationTestSuite) stopApplicationServer() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if suite.serverInstance != nil {
		suite.serverInstance.Stop(ctx)
		suite.serverInstance = nil
	}
}

func (suite *IntegrationTestSuite) waitForServerReady() error {
	timeout := 30 * time.Second
	start := time.Now()

	for time.Since(start) < timeout {
		resp, err := http.Get(suite.baseURL + "/health")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %v", timeout)
}

func (suite *IntegrationTestSuite) TearDownSuite() {
	suite.stopApplicationServer()

	if suite.postgresContainer != nil {
		if err := suite.postgresContainer.Terminate(context.Background()); err != nil {
			suite.T().Logf("Failed to terminate postgres container: %s", err)
		}
	}
}

// call sends a JSON request and decodes the response envelope.
func (suite *IntegrationTestSuite) call(method, path string, payload interface{}) (int, map[string]interface{}) {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		require.NoError(suite.T(), err)
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, suite.baseURL+path, reader)
	require.NoError(suite.T(), err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := suite.client.Do(req)
	require.NoError(suite.T(), err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(suite.T(), err)
	suite.T().Logf("%s %s -> %d %s", method, path, resp.StatusCode, respBody)

	var response map[string]interface{}
	require.NoError(suite.T(), json.Unmarshal(respBody, &response))
	return resp.StatusCode, response
}

func (suite *IntegrationTestSuite) data(response map[string]interface{}) map[string]interface{} {
	data, ok := response["data"].(map[string]interface{})
	require.True(suite.T(), ok, "Response should have 'data' field")
	return data
}

func (suite *IntegrationTestSuite) createAccount(initialBalance string) string {
	status, response := suite.call(http.MethodPost, "/accounts", map[string]string{
		"initial_balance": initialBalance,
	})
	require.Equal(suite.T(), http.StatusCreated, status)

	accountID, ok := suite.data(response)["account_id"].(string)
	require.True(suite.T(), ok)
	require.NotEmpty(suite.T(), accountID)
	return accountID
}

func (suite *IntegrationTestSuite) transfer(fromID, toID, amount string) bool {
	status, response := suite.call(http.MethodPost, "/transactions", map[string]string{
		"from_account_id": fromID,
		"to_account_id":   toID,
		"amount":          amount,
	})
	require.Equal(suite.T(), http.StatusOK, status)

	success, ok := suite.data(response)["success"].(bool)
	require.True(suite.T(), ok)
	return success
}

func (suite *IntegrationTestSuite) assertBalance(accountID, expected string) {
	status, response := suite.call(http.MethodGet, "/accounts/"+accountID, nil)
	require.Equal(suite.T(), http.StatusOK, status)

	actual, err := decimal.NewFromString(suite.data(response)["balance"].(string))
	require.NoError(suite.T(), err)
	assert.True(suite.T(), decimal.RequireFromString(expected).Equal(actual),
		"Decimal values not equal: expected %s, got %s", expected, actual)
}

// ------------------------------------------------------------------
// Steps below are helpers (non-test methods). They will be executed
// in the order invoked by TestFlow.
// ------------------------------------------------------------------

func (suite *IntegrationTestSuite) stepHealthCheck() {
	resp, err := suite.client.Get(suite.baseURL + "/health")
	require.NoError(suite.T(), err)
	defer resp.Body.Close()
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)

	var healthResp map[string]interface{}
	require.NoError(suite.T(), json.NewDecoder(resp.Body).Decode(&healthResp))
	assert.Equal(suite.T(), "healthy", healthResp["status"])
}

func (suite *IntegrationTestSuite) stepCreateAccounts() {
	suite.accountA = suite.createAccount("100")
	suite.accountB = suite.createAccount("100")
	assert.NotEqual(suite.T(), suite.accountA, suite.accountB)

	suite.assertBalance(suite.accountA, "100")
	suite.assertBalance(suite.accountB, "100")

	status, response := suite.call(http.MethodGet, "/accounts/"+suite.accountA+"/exists", nil)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), true, suite.data(response)["exists"])
}

func (suite *IntegrationTestSuite) stepSuccessfulTransfer() {
	assert.True(suite.T(), suite.transfer(suite.accountA, suite.accountB, "60"))

	suite.assertBalance(suite.accountA, "40")
	suite.assertBalance(suite.accountB, "160")
}

func (suite *IntegrationTestSuite) stepInsufficientFundsTransfer() {
	assert.False(suite.T(), suite.transfer(suite.accountA, suite.accountB, "60"))

	suite.assertBalance(suite.accountA, "40")
	suite.assertBalance(suite.accountB, "160")
}

func (suite *IntegrationTestSuite) stepStatePersistsAcrossRestart() {
	suite.stopApplicationServer()
	require.NoError(suite.T(), suite.startApplicationServer())

	suite.assertBalance(suite.accountA, "40")
	suite.assertBalance(suite.accountB, "160")
}

func (suite *IntegrationTestSuite) stepDeleteAccount() {
	status, response := suite.call(http.MethodDelete, "/accounts/"+suite.accountA, nil)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), true, suite.data(response)["existed"])

	status, response = suite.call(http.MethodGet, "/accounts/"+suite.accountA, nil)
	assert.Equal(suite.T(), http.StatusNotFound, status)
	errBody, ok := response["error"].(map[string]interface{})
	require.True(suite.T(), ok)
	assert.Equal(suite.T(), "inactive_or_not_found", errBody["code"])

	status, response = suite.call(http.MethodGet, "/accounts/"+suite.accountA+"/exists", nil)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), false, suite.data(response)["exists"])

	status, response = suite.call(http.MethodDelete, "/accounts/"+suite.accountA, nil)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), false, suite.data(response)["existed"])
}

func (suite *IntegrationTestSuite) stepTransferToDeletedAccountRollsBack() {
	assert.False(suite.T(), suite.transfer(suite.accountB, suite.accountA, "10"))

	suite.assertBalance(suite.accountB, "160")
}

func (suite *IntegrationTestSuite) TestFlow() {
	suite.stepHealthCheck()
	suite.stepCreateAccounts()
	suite.stepSuccessfulTransfer()
	suite.stepInsufficientFundsTransfer()
	suite.stepStatePersistsAcrossRestart()
	suite.stepDeleteAccount()
	suite.stepTransferToDeletedAccountRollsBack()
}

func TestIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	suite.Run(t, new(IntegrationTestSuite))
}
