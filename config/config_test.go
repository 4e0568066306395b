package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestValidateAndAddDefaults(t *testing.T) {
	// Test case with empty ProjectName and DataSource DNS
	cnf := Configuration{
		ProjectName: "",
		DataSource: DataSourceConfig{
			Dns: "",
		},
		Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}

	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}
	cnf = Configuration{
		ProjectName: "",
		DataSource: DataSourceConfig{
			Dns: "postgres://localhost:5432",
		},
		Redis: RedisConfig{
			Dns: "",
		},
	}

	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}
	// Test case with all required fields filled, expect no error
	cnf = Configuration{
		ProjectName: "Test Project",
		DataSource: DataSourceConfig{
			Dns: "some-dns",
		},
		Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	// Test default port setting
	cnf.Server.Port = ""
	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if cnf.Server.Port != DEFAULT_PORT {
		t.Errorf("Expected default port %s, got %s", DEFAULT_PORT, cnf.Server.Port)
	}
}

func TestValidateAndAddDefaults_QueueAndReconciliation(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "some-dns"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}

	if err := cnf.validateAndAddDefaults(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cnf.Queue.MatchingQueue != "crosscheck:matching" {
		t.Errorf("Expected default matching queue, got %s", cnf.Queue.MatchingQueue)
	}
	if cnf.Queue.FileProcessingQueue != "crosscheck:file_processing" {
		t.Errorf("Expected default file processing queue, got %s", cnf.Queue.FileProcessingQueue)
	}
	if cnf.Queue.NumberOfQueues != 1 {
		t.Errorf("Expected 1 queue by default, got %d", cnf.Queue.NumberOfQueues)
	}
	if cnf.Reconciliation.DefaultDateToleranceDays != 3 {
		t.Errorf("Expected default date tolerance of 3 days, got %d", cnf.Reconciliation.DefaultDateToleranceDays)
	}
	if cnf.Reconciliation.DefaultAmountTolerance != 0.01 {
		t.Errorf("Expected default amount tolerance of 0.01, got %f", cnf.Reconciliation.DefaultAmountTolerance)
	}
	if cnf.Reconciliation.MaxFileSizeMB != 50 {
		t.Errorf("Expected default max file size of 50MB, got %d", cnf.Reconciliation.MaxFileSizeMB)
	}
	if cnf.Reconciliation.UploadDir != "uploads" {
		t.Errorf("Expected default upload dir, got %s", cnf.Reconciliation.UploadDir)
	}

	// Explicit values survive the defaulting pass.
	cnf.Reconciliation.DefaultDateToleranceDays = 7
	cnf.Queue.NumberOfQueues = 4
	if err := cnf.validateAndAddDefaults(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cnf.Reconciliation.DefaultDateToleranceDays != 7 {
		t.Errorf("Expected date tolerance to stay 7, got %d", cnf.Reconciliation.DefaultDateToleranceDays)
	}
	if cnf.Queue.NumberOfQueues != 4 {
		t.Errorf("Expected queue count to stay 4, got %d", cnf.Queue.NumberOfQueues)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	// Create a temporary file
	tmpFile, err := os.CreateTemp("", "crosscheck.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name()) // Clean up after the test

	// Sample configuration to write to the temp file
	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource: DataSourceConfig{
			Dns: "temp-dns",
		},
		Redis: RedisConfig{
			Dns: "temp-redis",
		},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close() // Close the file so loadConfigFromFile can open it

	// Set an environment variable to override the project name
	os.Setenv("CROSSCHECK_PROJECT_NAME", "Env Project")
	defer os.Unsetenv("CROSSCHECK_PROJECT_NAME") // Clean up after the test

	// Load the configuration from the file
	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	// Fetch the loaded configuration
	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	// Check if the environment variable override worked
	if loadedConfig.ProjectName != "Env Project" {
		t.Errorf("Expected ProjectName to be 'Env Project', got '%s'", loadedConfig.ProjectName)
	}

	// Check if the DNS was loaded correctly from the file
	if loadedConfig.DataSource.Dns != "temp-dns" {
		t.Errorf("Expected DataSource.Dns to be 'temp-dns', got '%s'", loadedConfig.DataSource.Dns)
	}
}

func TestInitConfig(t *testing.T) {
	// Create a temporary file
	tmpFile, err := os.CreateTemp("", "crosscheck.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Init Project",
		DataSource: DataSourceConfig{
			Dns: "init-dns",
		},
		Redis: RedisConfig{
			Dns: "init-redis",
		},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	if err := InitConfig(tmpFile.Name()); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if loadedConfig.ProjectName != "Init Project" {
		t.Errorf("Expected ProjectName to be 'Init Project', got '%s'", loadedConfig.ProjectName)
	}
}
