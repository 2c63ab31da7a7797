// Command bitoraclectl is the operator tool for bit-oracle: it encrypts
// private keys for storage, prints the address of a key, and logs in to a
// running server by signing its challenge.
//
//	bitoraclectl encrypt-key -out key.json
//	bitoraclectl address -key key.json
//	bitoraclectl login -server http://localhost:8000 -key key.json
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/motunrayo-ayo/bit-oracle/internal/crypto"
)

const usage = `usage: bitoraclectl <command> [flags]

commands:
  encrypt-key   encrypt a hex private key into a key file
  address       print the address of a key
  login         sign a server challenge and print the session token
`

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "encrypt-key":
		err = encryptKey(os.Args[2:])
	case "address":
		err = address(os.Args[2:])
	case "login":
		err = login(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// keyFlags registers the flags shared by commands that need a key. The
// password falls back to BITORACLE_KEY_PASSWORD and the raw key to
// BITORACLE_PRIVATE_KEY.
func keyFlags(fs *flag.FlagSet) *crypto.KeyConfig {
	cfg := &crypto.KeyConfig{}
	fs.StringVar(&cfg.EncryptedKeyPath, "key", "", "encrypted key file")
	fs.StringVar(&cfg.KeyPassword, "password", os.Getenv("BITORACLE_KEY_PASSWORD"), "key file password")
	cfg.RawPrivateKey = os.Getenv("BITORACLE_PRIVATE_KEY")
	return cfg
}

func encryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ExitOnError)
	out := fs.String("out", "key.json", "output file")
	password := fs.String("password", os.Getenv("BITORACLE_KEY_PASSWORD"), "encryption password")
	_ = fs.Parse(args)

	key := os.Getenv("BITORACLE_PRIVATE_KEY")
	if key == "" {
		fmt.Fprint(os.Stderr, "private key (hex): ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read key: %w", err)
		}
		key = strings.TrimSpace(line)
	}

	blob, err := crypto.EncryptKey(key, *password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}

	signer, err := crypto.NewSigner(key)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s for %s\n", *out, signer.Address().Hex())
	return nil
}

func address(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	keyCfg := keyFlags(fs)
	_ = fs.Parse(args)

	signer, err := crypto.LoadSigner(*keyCfg)
	if err != nil {
		return err
	}
	fmt.Println(signer.Address().Hex())
	return nil
}

type challengeResponse struct {
	Nonce   string `json:"nonce"`
	Message string `json:"message"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func login(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8000", "bit-oracle base URL")
	timeout := fs.Duration("timeout", 15*time.Second, "request timeout")
	keyCfg := keyFlags(fs)
	_ = fs.Parse(args)

	signer, err := crypto.LoadSigner(*keyCfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	base := strings.TrimRight(*server, "/")

	var ch challengeResponse
	if err := postJSON(ctx, base+"/api/auth/challenge", map[string]string{"address": signer.Address().Hex()}, &ch); err != nil {
		return fmt.Errorf("challenge: %w", err)
	}
	sig, err := signer.SignMessage([]byte(ch.Message))
	if err != nil {
		return err
	}

	var sess sessionResponse
	if err := postJSON(ctx, base+"/api/auth/login", map[string]string{"nonce": ch.Nonce, "signature": sig}, &sess); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Fprintf(os.Stderr, "token expires %s\n", sess.ExpiresAt.Format(time.RFC3339))
	fmt.Println(sess.Token)
	return nil
}

func postJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		return fmt.Errorf("%s: %s (%s)", resp.Status, e.Error, e.Code)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
