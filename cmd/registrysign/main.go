// Command registrysign is the client-side helper for registryd. It signs API
// requests, computes listing ids and vote commitments, and seals private keys
// into password-protected keystore files.
//
// Usage:
//
//	registrysign sign -method POST -path /api/listings -body app.json
//	registrysign address
//	registrysign listing-id -name example.org
//	registrysign commitment -choice 1 -salt 42
//	registrysign seal -out key.json
//
// The signing key comes from REGISTRYSIGN_PRIVATE_KEY, or from the keystore
// named by REGISTRYSIGN_KEYSTORE with REGISTRYSIGN_PASSWORD. A .env file in
// the working directory is loaded first.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/alanyoungcy/stakeregistry/internal/crypto"
	"github.com/alanyoungcy/stakeregistry/internal/server/middleware"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "sign":
		err = runSign(args, os.Stdout)
	case "address":
		err = runAddress(os.Stdout)
	case "listing-id":
		err = runListingID(args, os.Stdout)
	case "commitment":
		err = runCommitment(args, os.Stdout)
	case "seal":
		err = runSeal(args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "registrysign %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: registrysign <sign|address|listing-id|commitment|seal> [flags]")
}

func keySource() crypto.KeySource {
	return crypto.KeySource{
		RawKey:       os.Getenv("REGISTRYSIGN_PRIVATE_KEY"),
		KeystorePath: os.Getenv("REGISTRYSIGN_KEYSTORE"),
		Password:     os.Getenv("REGISTRYSIGN_PASSWORD"),
	}
}

// runSign prints the identity headers for one request, one per line, in
// curl -H form.
func runSign(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	method := fs.String("method", "POST", "HTTP method")
	path := fs.String("path", "", "request path, e.g. /api/listings")
	bodyPath := fs.String("body", "", "file holding the request body; - for stdin")
	ts := fs.Int64("timestamp", 0, "unix timestamp to sign; defaults to now")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("-path is required")
	}

	var body []byte
	switch *bodyPath {
	case "":
	case "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		body = b
	default:
		b, err := os.ReadFile(*bodyPath)
		if err != nil {
			return fmt.Errorf("reading body: %w", err)
		}
		body = b
	}

	signer, err := crypto.LoadSigner(keySource())
	if err != nil {
		return err
	}
	if *ts == 0 {
		*ts = time.Now().Unix()
	}
	sig, err := signer.SignRequest(*method, *path, *ts, body)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %s\n", middleware.HeaderAddress, signer.Address().Hex())
	fmt.Fprintf(out, "%s: %d\n", middleware.HeaderTimestamp, *ts)
	fmt.Fprintf(out, "%s: %s\n", middleware.HeaderSignature, sig)
	return nil
}

func runAddress(out io.Writer) error {
	signer, err := crypto.LoadSigner(keySource())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, signer.Address().Hex())
	return nil
}

func runListingID(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("listing-id", flag.ContinueOnError)
	name := fs.String("name", "", "listing name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("-name is required")
	}
	fmt.Fprintln(out, crypto.ListingID(*name).Hex())
	return nil
}

func runCommitment(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("commitment", flag.ContinueOnError)
	choice := fs.Uint("choice", 1, "vote choice: 1 keeps the listing, 0 removes it")
	salt := fs.Uint64("salt", 0, "secret salt, kept until reveal")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *choice > 1 {
		return fmt.Errorf("-choice must be 0 or 1, got %d", *choice)
	}
	fmt.Fprintln(out, crypto.VoteCommitment(uint8(*choice), *salt).Hex())
	return nil
}

// runSeal encrypts REGISTRYSIGN_PRIVATE_KEY with REGISTRYSIGN_PASSWORD.
func runSeal(args []string) error {
	fs := flag.NewFlagSet("seal", flag.ContinueOnError)
	outPath := fs.String("out", "keystore.json", "keystore file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	src := keySource()
	if src.RawKey == "" || src.Password == "" {
		return errors.New("REGISTRYSIGN_PRIVATE_KEY and REGISTRYSIGN_PASSWORD must be set")
	}
	data, err := crypto.SealKey(src.RawKey, src.Password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*outPath, data, 0o600); err != nil {
		return fmt.Errorf("writing keystore: %w", err)
	}
	fmt.Fprintf(os.Stderr, "sealed key written to %s\n", *outPath)
	return nil
}
