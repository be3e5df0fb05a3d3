//go:build test

package main

import (
	"bytes"
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/webble/internal/channel"
	"github.com/srg/webble/internal/testutils"
	"github.com/srg/webble/pkg/config"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite runs webble commands against a fake native host.
// All cmd/webble test suites should embed it.
type CommandTestSuite struct {
	suite.Suite

	Helper *testutils.TestHelper
	Host   *testutils.FakeNativeHost

	originalConnect func(context.Context, *config.Config, *logrus.Logger) (channel.Channel, error)
}

func (s *CommandTestSuite) SetupSuite() {
	s.originalConnect = connectNative
}

func (s *CommandTestSuite) TearDownSuite() {
	connectNative = s.originalConnect
}

// SetupTest installs a fresh fake host and resets every flag to its default.
func (s *CommandTestSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())

	host, stream := testutils.NewFakeNativeHost(s.T(), s.Helper.Logger)
	s.Host = host
	connectNative = func(context.Context, *config.Config, *logrus.Logger) (channel.Channel, error) {
		return stream, nil
	}

	resetFlags(rootCmd)
}

// ExecuteCommand runs webble with args, returns stdout and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
