// Command pcscinfo lists visible PC/SC readers and the ATR of any card
// currently inserted. It exists only to smoke-test go-pcsc's public API
// against a real platform service; it is deliberately not a general CLI.
package main

import (
	"fmt"
	"os"

	pcsc "github.com/dotside-studios/go-pcsc/pcsc"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pcscinfo:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, err := pcsc.OpenContext()
	if err != nil {
		return err
	}
	defer ctx.Close()

	readers, err := ctx.ListDevices()
	if err != nil {
		return err
	}
	if len(readers) == 0 {
		fmt.Println("no readers found")
		return nil
	}

	for _, r := range readers {
		fmt.Printf("%s\n", r.Name)

		card, err := r.Connect(pcsc.ShareShared, pcsc.ProtocolAny)
		if err != nil {
			fmt.Printf("  (no card: %v)\n", err)
			continue
		}
		status, err := card.GetStatus()
		if err != nil {
			fmt.Printf("  (status error: %v)\n", err)
		} else {
			fmt.Printf("  ATR: % x\n", status.Atr)
		}
		_ = card.Disconnect(pcsc.LeaveCard)
	}
	return nil
}
