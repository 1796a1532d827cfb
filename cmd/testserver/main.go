// Copyright 2021 Converter Systems LLC. All rights reserved.

package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	_ "net/http/pprof"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awcullen/uasc/server"
	"github.com/awcullen/uasc/ua"
	"go.uber.org/zap"
)

const endpointURL = "opc.tcp://localhost:46010"

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Printf("Error creating logger. %s\n", err.Error())
		return
	}
	defer logger.Sync()

	// open http://localhost:6060/debug/pprof/ in your browser.
	go func() {
		logger.Info("pprof stopped", zap.Error(http.ListenAndServe("localhost:6060", nil)))
	}()

	// create directory with certificates and keys, if not found.
	if err := ensurePKI(); err != nil {
		logger.Error("error creating pki", zap.Error(err))
		return
	}

	srv, err := server.New(
		endpointURL,
		server.WithServerCertificateFile("./pki/server.crt", "./pki/server.key"),
		server.WithTrustedCertificatesFile("./pki/client.crt"),
		server.WithTokenLifetimeLimits(10000, 3600000),
		server.WithLogger(logger),
		server.WithTrace(),
	)
	if err != nil {
		logger.Error("error creating server", zap.Error(err))
		return
	}

	go func() {
		logger.Info("press Ctrl-C to exit...")
		waitForSignal()
		logger.Info("stopping server...")
		srv.Close()
	}()

	logger.Info("starting server", zap.String("endpoint", srv.EndpointURL()))
	if err := srv.ListenAndServe(); err != ua.BadServerHalted {
		logger.Error("error serving", zap.Error(err))
	}
}

func waitForSignal() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
}

func createNewCertificate(appName, certFile, keyFile string) error {

	// create a keypair.
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return ua.BadCertificateInvalid
	}

	// create a certificate.
	host, _ := os.Hostname()
	applicationURI, _ := url.Parse(fmt.Sprintf("urn:%s:%s", host, appName))
	serialNumber, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	subjectKeyHash := sha1.New()
	subjectKeyHash.Write(key.PublicKey.N.Bytes())
	subjectKeyID := subjectKeyHash.Sum(nil)

	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: appName},
		SubjectKeyId:          subjectKeyID,
		AuthorityKeyId:        subjectKeyID,
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment | x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{host, "localhost"},
		URIs:                  []*url.URL{applicationURI},
	}

	rawcrt, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return ua.BadCertificateInvalid
	}
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: rawcrt}), 0644); err != nil {
		return err
	}
	return os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}), 0600)
}

func ensurePKI() error {

	// check if ./pki already exists
	if _, err := os.Stat("./pki"); !os.IsNotExist(err) {
		return nil
	}

	// make a pki directory, if not exist
	if err := os.MkdirAll("./pki", os.ModeDir|0755); err != nil {
		return err
	}

	// the testclient uses the client certificate in ./pki/client.crt
	if err := createNewCertificate("testclient", "./pki/client.crt", "./pki/client.key"); err != nil {
		return err
	}
	return createNewCertificate("testserver", "./pki/server.crt", "./pki/server.key")
}
