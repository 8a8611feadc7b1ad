// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs/cloudwatchlogsiface"
)

// DefaultRegion is used when CLOUDWATCH_LOGS_REGION is unset.
const DefaultRegion = "us-east-1"

// CloudWatchConfig configures NewCloudWatch.
type CloudWatchConfig struct {
	// Region is the AWS region of the log group.
	Region string

	// Endpoint overrides the service endpoint (for compatible
	// services and local emulators). Empty uses the AWS default.
	Endpoint string

	// CreateGroup creates the log group when CreateStream finds it
	// missing. Without it, a missing group is a stream creation
	// failure.
	CreateGroup bool

	// HTTPTimeout bounds each HTTP request made by the SDK.
	HTTPTimeout time.Duration

	Logger *slog.Logger
}

// CloudWatch is a Service backed by Amazon CloudWatch Logs.
type CloudWatch struct {
	api         cloudwatchlogsiface.CloudWatchLogsAPI
	createGroup bool
	logger      *slog.Logger
}

// NewCloudWatch creates a CloudWatch service using the default AWS
// credential chain.
func NewCloudWatch(config CloudWatchConfig) (*CloudWatch, error) {
	if config.Region == "" {
		config.Region = DefaultRegion
	}
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 30 * time.Second
	}

	awsConfig := aws.NewConfig().
		WithRegion(config.Region).
		WithHTTPClient(&http.Client{Timeout: config.HTTPTimeout})
	if config.Endpoint != "" {
		awsConfig = awsConfig.WithEndpoint(config.Endpoint)
	}

	awsSession, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("creating AWS session: %w", err)
	}

	return NewCloudWatchFromAPI(cloudwatchlogs.New(awsSession), config.CreateGroup, config.Logger), nil
}

// NewCloudWatchFromAPI wraps an existing CloudWatch Logs client.
func NewCloudWatchFromAPI(api cloudwatchlogsiface.CloudWatchLogsAPI, createGroup bool, logger *slog.Logger) *CloudWatch {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatch{api: api, createGroup: createGroup, logger: logger}
}

// CreateStream implements Service.
func (c *CloudWatch) CreateStream(ctx context.Context, group, stream string) error {
	err := c.createStream(ctx, group, stream)
	if err != nil && c.createGroup && awsErrorCode(err) == cloudwatchlogs.ErrCodeResourceNotFoundException {
		c.logger.Info("creating log group", "group", group)
		_, groupErr := c.api.CreateLogGroupWithContext(ctx, &cloudwatchlogs.CreateLogGroupInput{
			LogGroupName: aws.String(group),
		})
		if groupErr != nil && awsErrorCode(groupErr) != cloudwatchlogs.ErrCodeResourceAlreadyExistsException {
			return fmt.Errorf("cloudwatch: creating log group %s: %w", group, groupErr)
		}
		err = c.createStream(ctx, group, stream)
	}
	if err == nil {
		return nil
	}
	if awsErrorCode(err) == cloudwatchlogs.ErrCodeResourceAlreadyExistsException {
		return fmt.Errorf("cloudwatch: %s/%s: %w", group, stream, ErrStreamExists)
	}
	return fmt.Errorf("cloudwatch: creating log stream %s/%s: %w", group, stream, err)
}

func (c *CloudWatch) createStream(ctx context.Context, group, stream string) error {
	_, err := c.api.CreateLogStreamWithContext(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(group),
		LogStreamName: aws.String(stream),
	})
	return err
}

// CurrentToken implements Service. The stream is looked up by prefix,
// which sorts the exact name first; the name is still compared so a
// longer stream sharing the prefix is never mistaken for it.
func (c *CloudWatch) CurrentToken(ctx context.Context, group, stream string) (string, error) {
	output, err := c.api.DescribeLogStreamsWithContext(ctx, &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName:        aws.String(group),
		LogStreamNamePrefix: aws.String(stream),
		Limit:               aws.Int64(1),
	})
	if err != nil {
		return "", fmt.Errorf("cloudwatch: describing log stream %s/%s: %w", group, stream, err)
	}
	for _, description := range output.LogStreams {
		if aws.StringValue(description.LogStreamName) != stream {
			continue
		}
		if description.UploadSequenceToken == nil {
			return SentinelToken, nil
		}
		return aws.StringValue(description.UploadSequenceToken), nil
	}
	return "", fmt.Errorf("cloudwatch: log stream %s/%s not found", group, stream)
}

// AppendEvents implements Service. The sentinel token is sent as "no
// token": PutLogEvents rejects a literal token on a stream's first
// append.
func (c *CloudWatch) AppendEvents(ctx context.Context, group, stream, token string, events []Event) (string, error) {
	input := &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(group),
		LogStreamName: aws.String(stream),
		LogEvents:     make([]*cloudwatchlogs.InputLogEvent, 0, len(events)),
	}
	if token != "" && token != SentinelToken {
		input.SequenceToken = aws.String(token)
	}
	for _, event := range events {
		input.LogEvents = append(input.LogEvents, &cloudwatchlogs.InputLogEvent{
			Message:   aws.String(event.Message),
			Timestamp: aws.Int64(event.Timestamp),
		})
	}

	output, err := c.api.PutLogEventsWithContext(ctx, input)
	if err != nil {
		switch awsErrorCode(err) {
		case cloudwatchlogs.ErrCodeDataAlreadyAcceptedException:
			// The batch was stored by an earlier attempt whose response
			// was lost. Sending it again would duplicate it.
			return c.alreadyAccepted(ctx, group, stream, len(events), err)
		case cloudwatchlogs.ErrCodeInvalidSequenceTokenException:
			return "", fmt.Errorf("cloudwatch: %s/%s: %w: %v", group, stream, ErrTokenConflict, err)
		}
		return "", fmt.Errorf("cloudwatch: putting %d events to %s/%s: %w", len(events), group, stream, err)
	}

	if rejected := output.RejectedLogEventsInfo; rejected != nil {
		c.logger.Warn("service rejected some log events",
			"group", group,
			"stream", stream,
			"too_old_end_index", aws.Int64Value(rejected.TooOldLogEventEndIndex),
			"too_new_start_index", aws.Int64Value(rejected.TooNewLogEventStartIndex),
			"expired_end_index", aws.Int64Value(rejected.ExpiredLogEventEndIndex),
		)
	}

	// The service stopped requiring sequence tokens and may omit the
	// next one; the token we sent stays valid in that case.
	next := aws.StringValue(output.NextSequenceToken)
	if next == "" {
		next = token
	}
	return next, nil
}

// alreadyAccepted returns the token that follows a batch the service
// reports it already holds: the one carried by the error, or else the
// stream's current token.
func (c *CloudWatch) alreadyAccepted(ctx context.Context, group, stream string, events int, err error) (string, error) {
	c.logger.Warn("service already accepted batch, not resending",
		"group", group,
		"stream", stream,
		"events", events,
	)
	var accepted *cloudwatchlogs.DataAlreadyAcceptedException
	if errors.As(err, &accepted) && aws.StringValue(accepted.ExpectedSequenceToken) != "" {
		return aws.StringValue(accepted.ExpectedSequenceToken), nil
	}
	return c.CurrentToken(ctx, group, stream)
}

// awsErrorCode returns the AWS error code carried by err, or "".
func awsErrorCode(err error) string {
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		return awsErr.Code()
	}
	return ""
}
