// Copyright 2021 Converter Systems LLC. All rights reserved.

package client

import (
	"context"
	"strings"
	"testing"

	"github.com/awcullen/uasc/server"
	"github.com/awcullen/uasc/ua"
)

func BenchmarkTestStack(b *testing.B) {
	dir := b.TempDir()
	serverCert, serverKey, err := createCertificate(dir, "server")
	if err != nil {
		b.Fatal(err)
	}
	clientCert, clientKey, err := createCertificate(dir, "client")
	if err != nil {
		b.Fatal(err)
	}
	_, endpointURL := startServer(b,
		server.WithServerCertificateFile(serverCert, serverKey),
		server.WithInsecureSkipVerify(),
	)

	channels := []struct {
		name string
		opts []Option
	}{
		{"None", nil},
		{"Basic256Sha256", []Option{
			WithSecurityPolicyBasic256Sha256(),
			WithClientCertificateFile(clientCert, clientKey),
			WithServerCertificateFile(serverCert),
			WithInsecureSkipVerify(),
		}},
	}
	sizes := []struct {
		name string
		size int
	}{
		{"100 bytes", 100},
		{"10 KiB", 10 << 10},
		{"1 MiB", 1 << 20},
	}
	for _, c := range channels {
		ctx := context.Background()
		cli, err := Dial(ctx, endpointURL, c.opts...)
		if err != nil {
			b.Error("Error opening client. " + err.Error())
			return
		}
		for _, s := range sizes {
			b.Run(c.name+"/"+s.name, func(b *testing.B) {
				req := &ua.TestStackRequest{TestID: 1, Input: ua.NewVariant(strings.Repeat("x", s.size))}
				b.SetBytes(int64(s.size))
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := cli.TestStack(ctx, req); err != nil {
						b.Error("Error in TestStack. " + err.Error())
						return
					}
				}
			})
		}
		cli.Close(ctx)
	}
}
