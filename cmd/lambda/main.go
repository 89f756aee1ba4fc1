package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/sirupsen/logrus"

	"view-aspects-go/internal/app"
	"view-aspects-go/internal/config"
	"view-aspects-go/internal/logger"
	"view-aspects-go/internal/types"
)

var (
	service *app.App
	log     *logger.Logger

	coldStart = true
)

// init wires the service once per container.
func init() {
	log = logger.New()
	start := time.Now()

	var err error
	service, err = app.New(config.Load(), log)
	if err != nil {
		log.WithError(err).Fatal("failed to wire service")
	}
	log.WithField("duration_ms", time.Since(start).Milliseconds()).Info("cold start complete")
}

// Handler processes one job event. A failed job is returned as an error so the
// invocation is marked failed.
func Handler(ctx context.Context, job types.Job) (*types.Result, error) {
	fields := logrus.Fields{
		"project_analysis_run_id": job.ProjectAnalysisRunID,
		"segments":                len(job.SegmentIDs),
		"cold_start":              coldStart,
	}
	coldStart = false
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		fields["request_id"] = lc.AwsRequestID
	}
	reqLog := log.WithFields(fields)
	reqLog.Info("lambda invocation")

	res, err := service.Process(ctx, job)
	if err != nil {
		reqLog.WithError(err).Error("job failed")
		return nil, err
	}
	reqLog.WithFields(logrus.Fields{"view_id": res.ViewID, "pipeline": res.Pipeline, "duration_ms": res.DurationMs}).Info("job finished")
	return res, nil
}

func main() {
	lambda.Start(Handler)
}
