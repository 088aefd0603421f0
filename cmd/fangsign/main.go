// fangsign — офлайн-подписант манифестов. Генерирует Ed25519-ключи и
// заворачивает TOML-манифест в подписанный конверт для POST /v1/agents.
//
//	fangsign keygen -out signer
//	fangsign sign -key signer.key -manifest agent.toml -key-id ops-2026
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/xela07ax/agentos-kernel-prototype/internal/manifest"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "keygen":
		keygen(os.Args[2:])
	case "sign":
		sign(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: fangsign <keygen|sign> [flags]")
	os.Exit(2)
}

func keygen(args []string) {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "signer", "префикс выходных файлов (<out>.key, <out>.pub)")
	fs.Parse(args)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Fatalf("keygen failed: %v", err)
	}

	// Секретный ключ: только владелец
	if err := os.WriteFile(*out+".key", []byte(base64.StdEncoding.EncodeToString(priv)), 0o600); err != nil {
		log.Fatalf("write private key: %v", err)
	}
	if err := os.WriteFile(*out+".pub", []byte(base64.StdEncoding.EncodeToString(pub)), 0o644); err != nil {
		log.Fatalf("write public key: %v", err)
	}
	fmt.Printf("keypair written: %s.key, %s.pub\n", *out, *out)
}

func sign(args []string) {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	keyPath := fs.String("key", "", "путь к приватному ключу (base64)")
	manifestPath := fs.String("manifest", "", "путь к TOML-манифесту")
	keyID := fs.String("key-id", "", "идентификатор ключа в конверте")
	outPath := fs.String("out", "", "файл конверта (по умолчанию stdout)")
	fs.Parse(args)

	if *keyPath == "" || *manifestPath == "" {
		fs.Usage()
		os.Exit(2)
	}

	keyB64, err := os.ReadFile(*keyPath)
	if err != nil {
		log.Fatalf("read private key: %v", err)
	}
	priv, err := base64.StdEncoding.DecodeString(string(keyB64))
	if err != nil || len(priv) != ed25519.PrivateKeySize {
		log.Fatal("private key is not a valid base64 ed25519 key")
	}

	// Подписываются точные байты файла: никакой ре-сериализации
	manifestTOML, err := os.ReadFile(*manifestPath)
	if err != nil {
		log.Fatalf("read manifest: %v", err)
	}

	env := manifest.Seal(string(manifestTOML), ed25519.PrivateKey(priv), *keyID)
	raw, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		log.Fatalf("encode envelope: %v", err)
	}

	if *outPath == "" {
		fmt.Println(string(raw))
		return
	}
	if err := os.WriteFile(*outPath, raw, 0o644); err != nil {
		log.Fatalf("write envelope: %v", err)
	}
	fmt.Printf("signed envelope written: %s\n", *outPath)
}
