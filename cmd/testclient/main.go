// Copyright 2021 Converter Systems LLC. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/awcullen/uasc/client"
	"github.com/awcullen/uasc/ua"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Printf("Error creating logger. %s\n", err.Error())
		return
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		logger.Info("press Ctrl-C to exit...")
		waitForSignal()
		logger.Info("stopping client...")
		cancel()
	}()

	// open a secure channel to testserver running locally.
	ch, err := client.Dial(
		ctx,
		"opc.tcp://localhost:46010",
		client.WithSecurityPolicyBasic256Sha256(),
		client.WithClientCertificateFile("./pki/client.crt", "./pki/client.key"),
		client.WithServerCertificateFile("./pki/server.crt"),
		client.WithInsecureSkipVerify(), // skips verification of server certificate
		client.WithTokenLifetime(20000),
		client.WithLogger(logger),
	)
	if err != nil {
		logger.Error("error opening channel", zap.Error(err))
		return
	}

	// a large input spans several chunks.
	input := strings.Repeat("0123456789", 10000)
	start := time.Now()
	for i := int32(0); i < 1000; i++ {
		// send request to server. receive response or error
		res, err := ch.TestStack(ctx, &ua.TestStackRequest{TestID: 1, Iteration: i, Input: ua.NewVariant(input)})
		if err != nil {
			logger.Error("error in TestStack", zap.Int32("iteration", i), zap.Error(err))
			ch.Abort(ctx)
			return
		}
		if res.Output == nil || res.Output.Value != input {
			logger.Error("wrong output of TestStack", zap.Int32("iteration", i))
			ch.Abort(ctx)
			return
		}
	}
	logger.Info("done", zap.Uint32("channel", ch.ChannelID()), zap.Duration("elapsed", time.Since(start)))

	// close secure channel
	if err := ch.Close(ctx); err != nil {
		logger.Error("error closing channel", zap.Error(err))
		ch.Abort(ctx)
	}
}

func waitForSignal() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
}
