package job

// buildScript runs inside the builder container. Every input arrives through the environment so
// the rendered Job only depends on the BuildRequest and the factory options.
const buildScript = `set -euo pipefail

export PATH="/home/nixuser/.nix-profile/bin:/nix/var/nix/profiles/default/bin:$PATH"
NIX="nix --extra-experimental-features nix-command --extra-experimental-features flakes"

publish_status() {
    local status="$1"
    local message="$2"
    nats --server "$NATS_URL" pub "$STATUS_SUBJECT" \
        "{\"build_name\": \"$BUILD_NAME\", \"namespace\": \"$POD_NAMESPACE\", \"status\": \"$status\", \"message\": \"$message\", \"timestamp\": \"$(date -u +%Y-%m-%dT%H:%M:%SZ)\"}"
}

fail() {
    publish_status "Failed" "$1"
    echo "[builder] $1" >&2
    exit 1
}

cat > /home/nixuser/push-to-cache.sh <<HOOK
#!/usr/bin/env bash
$NIX copy --to "$CACHE_URL" \$OUT_PATHS
HOOK
chmod +x /home/nixuser/push-to-cache.sh

publish_status "Building" "Cloning $GIT_REPO"
git clone "$GIT_REPO" /workspace/src || fail "git clone failed"
cd /workspace/src
if [ -n "$GIT_REF" ]; then
    git checkout "$GIT_REF" || fail "git checkout $GIT_REF failed"
fi

publish_status "Building" "Building .#$NIX_ATTR"
$NIX build ".#$NIX_ATTR" \
    --option require-sigs false \
    --option substitute true \
    --option extra-substituters "$CACHE_URL" \
    --post-build-hook /home/nixuser/push-to-cache.sh || fail "nix build .#$NIX_ATTR failed"

publish_status "Checking" "Running nix flake check"
$NIX flake check || fail "nix flake check failed"

if ! $NIX build .#image -o result; then
    publish_status "Completed" "No image output, skipping deploy"
    exit 0
fi

if [ -z "${ZOT_USERNAME:-}" ] || [ -z "${ZOT_PASSWORD:-}" ]; then
    fail "missing push credentials"
fi
skopeo copy --dest-creds "$ZOT_USERNAME:$ZOT_PASSWORD" docker-archive:result "docker://$IMAGE_NAME" \
    || fail "pushing $IMAGE_NAME failed"
unset ZOT_USERNAME ZOT_PASSWORD

$NIX build .#manifests --out-link manifests \
    --option require-sigs false \
    --option extra-substituters "$CACHE_URL" || fail "building manifests failed"

MANIFEST_B64=$(base64 -w0 < manifests)
nats --server "$NATS_URL" pub "$READY_SUBJECT" \
    "{\"manifestB64\": \"$MANIFEST_B64\", \"build_name\": \"$BUILD_NAME\", \"namespace\": \"$POD_NAMESPACE\", \"timestamp\": \"$(date -u +%Y-%m-%dT%H:%M:%SZ)\"}"

publish_status "Deploying" "Build completed, manifests handed to the deployer"
`
