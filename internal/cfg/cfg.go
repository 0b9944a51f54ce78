package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config holds every runtime knob for the incident engine. Backends are
// selected by which fields are set: DatabaseURL picks Postgres,
// DynamoTableName picks DynamoDB, neither picks the in-memory store.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	DatabaseURL     string
	DynamoTableName string
	AWSRegion       string

	EventBusName string
	QueueURL     string

	SyncEndpoint string
	SyncAPIKey   string

	SlackWebhookURL     string
	PagerDutyRoutingKey string
	EmailSender         string

	ClaudeAPIKey string
	ClaudeModel  string

	TriageRulesPath string

	FeedPollMillis  int
	QueuePollMillis int

	MockExternalServices bool
	MockAIResponses      bool
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = not used)")
	fs.StringVar(&c.DynamoTableName, "dynamo-table-name", "", "DynamoDB table name (empty = not used)")
	fs.StringVar(&c.AWSRegion, "aws-region", "", "AWS region for DynamoDB, EventBridge, SQS, SES and SNS")
	fs.StringVar(&c.EventBusName, "event-bus-name", "", "EventBridge bus name (empty = in-memory bus)")
	fs.StringVar(&c.QueueURL, "queue-url", "", "SQS notification queue URL (empty = in-memory queue)")
	fs.StringVar(&c.SyncEndpoint, "sync-endpoint", "", "AppSync GraphQL endpoint for real-time propagation (empty = disabled)")
	fs.StringVar(&c.SyncAPIKey, "sync-api-key", "", "AppSync API key")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
	fs.StringVar(&c.PagerDutyRoutingKey, "pagerduty-routing-key", "", "PagerDuty Events v2 routing key")
	fs.StringVar(&c.EmailSender, "email-sender", "", "verified sender address for email notifications")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.TriageRulesPath, "triage-rules-path", "", "JSON rule table for severity triage (empty = built-in rules)")
	fs.IntVar(&c.FeedPollMillis, "feed-poll-millis", 500, "change feed poll interval in milliseconds (10..60000)")
	fs.IntVar(&c.QueuePollMillis, "queue-poll-millis", 1000, "notification queue poll interval in milliseconds (10..60000)")
	fs.BoolVar(&c.MockExternalServices, "mock-external-services", false, "log notifications instead of calling Slack/PagerDuty/SES/SNS")
	fs.BoolVar(&c.MockAIResponses, "mock-ai-responses", false, "use canned AI summaries instead of the Claude API")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// One store backend at most
	if c.DatabaseURL != "" && c.DynamoTableName != "" {
		errs = append(errs, errors.New("DATABASE_URL and DYNAMO_TABLE_NAME are mutually exclusive"))
	}

	// AWS-backed resources need a region
	if c.AWSRegion == "" && (c.DynamoTableName != "" || c.EventBusName != "" || c.QueueURL != "") {
		errs = append(errs, errors.New("AWS_REGION is required when DYNAMO_TABLE_NAME, EVENT_BUS_NAME or QUEUE_URL is set"))
	}

	// AppSync endpoint and key go together
	if c.SyncEndpoint != "" && c.SyncAPIKey == "" {
		errs = append(errs, errors.New("SYNC_API_KEY is required when SYNC_ENDPOINT is set"))
	}

	// Claude API key is required unless summaries are mocked
	if !c.MockAIResponses && c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required (or set MOCK_AI_RESPONSES)"))
	}
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if c.FeedPollMillis < 10 || c.FeedPollMillis > 60000 {
		errs = append(errs, fmt.Errorf("invalid FEED_POLL_MILLIS %d (must be 10..60000)", c.FeedPollMillis))
	}
	if c.QueuePollMillis < 10 || c.QueuePollMillis > 60000 {
		errs = append(errs, fmt.Errorf("invalid QUEUE_POLL_MILLIS %d (must be 10..60000)", c.QueuePollMillis))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
