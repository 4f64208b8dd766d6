// Veer - drift detection and remediation for declarative environments.
// Detect. Remediate. Verify.
package main

func main() {
	Execute()
}
