// Package outcome carries plugin execution results from the scheduler to the
// discovery index asynchronously. Events flow through a queue (in-memory,
// Redis or RabbitMQ) and a Recorder folds them into the index's usage
// statistics, so a slow statistics backend never delays a running chain.
package outcome
