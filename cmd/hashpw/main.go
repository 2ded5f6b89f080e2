package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"daleel.org/internal/auth"
)

// hashpw reads a password from stdin and prints its hash, for seeding users
// directly in the database.
func main() {
	var (
		algorithm = flag.String("algorithm", string(auth.HashBcrypt), "bcrypt or argon2id")
		cost      = flag.Int("cost", 10, "bcrypt cost")
	)
	flag.Parse()

	hasher, err := auth.NewHasher(
		auth.WithHashAlgorithm(auth.HashAlgorithm(*algorithm)),
		auth.WithBcryptCost(*cost),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hashpw: %v\n", err)
		os.Exit(1)
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintf(os.Stderr, "usage: echo <password> | %s [-algorithm bcrypt|argon2id]\n", os.Args[0])
		os.Exit(1)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		fmt.Fprintln(os.Stderr, "hashpw: empty password")
		os.Exit(1)
	}

	hash, err := hasher.Hash(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hashpw: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
