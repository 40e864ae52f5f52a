package denylist

// DefaultPatterns are actions no policy can allow: money leaving, secrets
// leaving, or state that cannot be rebuilt. Config adds to these and never
// removes from them.
var DefaultPatterns = Patterns{
	URLs: []string{
		// money movement
		"stripe.com/v1/charges",
		"stripe.com/v1/payment_intents",
		"stripe.com/v1/transfers",
		"stripe.com/v1/payouts",
		"paypal.com/v1/payments",
		"/checkout",
		"/payment",
		// credentials and accounts
		"/oauth/token",
		"/api/keys",
		"/account/delete",
	},
	Files: []string{
		"~/.ssh/id_rsa",
		"~/.ssh/id_ed25519",
		"~/.aws/credentials",
		"~/.kube/config",
		"~/.docker/config.json",
		"**/.env",
		"**/credentials.json",
		"**/*.kdbx",
	},
	Commands: []string{
		// data loss
		"rm -rf /",
		"rm -rf ~",
		"dd if=/dev/zero",
		"mkfs.",
		"> /dev/sda",
		// host takeover
		":(){ :|:& };:",
		"chmod -R 777 /",
		"sudo su",
		// history rewrite
		"git push --force",
		// environment secrets
		"/proc/self/environ",
	},
	SQL: []string{
		"drop database",
		"drop schema",
		"drop table",
		"truncate table",
	},
}
