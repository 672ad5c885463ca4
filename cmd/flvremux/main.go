// Command flvremux converts FLV streams to fragmented MP4, either once from a
// file or as an HTTP service.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.WithError(err).Error("flvremux failed")
		os.Exit(1)
	}
}
