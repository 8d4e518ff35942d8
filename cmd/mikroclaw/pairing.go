// ABOUTME: Startup pairing banner with a terminal QR code
// ABOUTME: Optionally writes the QR as a PNG for headless routers

package main

import (
	"fmt"
	"io"
	"net/url"

	"github.com/fatih/color"
	"github.com/skip2/go-qrcode"
)

// pairingURI is what the QR code encodes.
func pairingURI(code, addr string) string {
	v := url.Values{}
	v.Set("code", code)
	v.Set("addr", addr)
	return "mikroclaw://pair?" + v.Encode()
}

func printPairing(w io.Writer, code, addr, pngPath string) error {
	uri := pairingURI(code, addr)

	qr, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("encoding pairing QR: %w", err)
	}

	yellow := color.New(color.FgYellow, color.Bold)
	fmt.Fprintln(w)
	fmt.Fprint(w, "    Pairing code: ")
	yellow.Fprintln(w, code)
	fmt.Fprintf(w, "    Exchange it with: curl -X POST -H 'X-Pairing-Code: %s' http://%s/pair\n\n", code, addr)
	fmt.Fprintln(w, qr.ToSmallString(false))

	if pngPath != "" {
		if err := qrcode.WriteFile(uri, qrcode.Medium, 512, pngPath); err != nil {
			return fmt.Errorf("writing pairing QR to %s: %w", pngPath, err)
		}
		fmt.Fprintf(w, "    QR code saved to %s\n\n", pngPath)
	}
	return nil
}
