package di

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ec2-bootstrap/internal/dao/rundao"
	"github.com/savaki/ec2-bootstrap/internal/orchestrator"
)

// NewRegionalDynamoDB returns a client bound to region. The run history lives
// in the instance's region, which is only known after metadata resolution.
func NewRegionalDynamoDB(config aws.Config, region string) *dynamodb.Client {
	return dynamodb.NewFromConfig(config, func(o *dynamodb.Options) {
		if region != "" {
			o.Region = region
		}
	})
}

// ProvideHistoryFactory opens run history tables on demand
func ProvideHistoryFactory(config aws.Config) orchestrator.HistoryFactory {
	return func(region, table string) orchestrator.HistoryWriter {
		return rundao.New(NewRegionalDynamoDB(config, region), table)
	}
}
