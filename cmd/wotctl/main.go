package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: wotctl [-addr http://host:port] <command> [args]

commands:
  create-own-identity <id> <request-key> <insert-key> <nickname> [publishes-trust-list=true|false]
  delete-own-identity <id>
  restore-own-identity <id> <insert-key>
  set-trust           <truster-id> <trustee-id> <value> [comment]
  should-fetch        <identity-id>
  score               <owner-id> <subject-id>
  identity            <identity-id>
  health

ids are the 43-char URL-safe-base64-no-padding encoding graphstore.IdentityID
prints and parses; generating one is out of scope for this shim.

`)
	flag.PrintDefaults()
}

func main() {
	addr := flag.String("addr", getEnvOrDefault("WOTD_ADDR", "http://127.0.0.1:8090"), "wotd status API base URL")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "create-own-identity":
		err = createOwnIdentity(*addr, args[1:])
	case "delete-own-identity":
		requireArgs(args[1:], 1)
		err = deleteOwnIdentity(*addr, args[1])
	case "restore-own-identity":
		requireArgs(args[1:], 2)
		err = restoreOwnIdentity(*addr, args[1], args[2])
	case "set-trust":
		err = setTrust(*addr, args[1:])
	case "should-fetch":
		requireArgs(args[1:], 1)
		err = get(*addr + fmt.Sprintf("/api/v1/identities/%s/should-fetch", args[1]))
	case "score":
		requireArgs(args[1:], 2)
		err = get(*addr + fmt.Sprintf("/api/v1/scores/%s/%s", args[1], args[2]))
	case "identity":
		requireArgs(args[1:], 1)
		err = get(*addr + fmt.Sprintf("/api/v1/identities/%s", args[1]))
	case "health":
		err = get(*addr + "/api/v1/health")
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "wotctl:", err)
		os.Exit(1)
	}
}

// requireArgs exits with usage if the arg count doesn't match.
func requireArgs(args []string, n int) {
	if len(args) != n {
		usage()
		os.Exit(2)
	}
}

func createOwnIdentity(addr string, args []string) error {
	if len(args) < 4 || len(args) > 5 {
		usage()
		os.Exit(2)
	}
	publishesTrustList := false
	if len(args) == 5 {
		publishesTrustList = args[4] == "true"
	}
	body := map[string]interface{}{
		"id":                   args[0],
		"request_key":          args[1],
		"insert_key":           args[2],
		"nickname":             args[3],
		"publishes_trust_list": publishesTrustList,
	}
	return post(addr+"/api/v1/own-identities", body)
}

func setTrust(addr string, args []string) error {
	if len(args) < 3 || len(args) > 4 {
		usage()
		os.Exit(2)
	}
	var value int
	if _, err := fmt.Sscanf(args[2], "%d", &value); err != nil {
		return fmt.Errorf("invalid trust value %q: %w", args[2], err)
	}
	comment := ""
	if len(args) == 4 {
		comment = args[3]
	}
	body := map[string]interface{}{
		"truster": args[0],
		"trustee": args[1],
		"value":   value,
		"comment": comment,
	}
	return post(addr+"/api/v1/trusts", body)
}

func deleteOwnIdentity(addr, id string) error {
	req, err := http.NewRequest(http.MethodDelete, addr+"/api/v1/own-identities/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func restoreOwnIdentity(addr, id, insertKey string) error {
	body := map[string]interface{}{"insert_key": insertKey}
	return post(addr+"/api/v1/own-identities/"+id+"/restore", body)
}

func get(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func post(url string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, string(body))
	}

	var pretty interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(string(out))
	return nil
}
