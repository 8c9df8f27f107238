// Package webhook receives GitHub push deliveries and authenticates them.
//
// A delivery is accepted only if it passes six checks, in this order:
//
//  1. Request method is POST
//  2. User agent starts with "GitHub-Hookshot/"
//  3. X-GitHub-Event is one of the configured event types
//  4. Body is a non-empty JSON object
//  5. X-Hub-Signature equals "sha1=" + hex(HMAC-SHA1(secret, body)), compared in constant time
//  6. Payload ref equals "refs/heads/<deployBranch>"
//
// The first failing check is written to the deploy log and returned as a
// *RejectionError. Later checks are never evaluated.
//
// # Response Policy
//
// The HTTP server answers every delivery on the webhook path with
// 200 OK and an empty body, whether the deploy ran, was rejected or failed.
// Diagnosis happens through the deploy log and run history only.
//
// # Example Usage
//
//	cfg, _ := config.Load("manifest.json")
//	wcfg, _ := webhook.FromConfig(cfg)
//	server := webhook.New(wcfg, deployer, logger)
//	if err := server.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
package webhook
