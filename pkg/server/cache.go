// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/kadirpekel/instruct/pkg/signature"
)

// summaryCache keeps dataset summaries keyed by trainset digest.
type summaryCache struct {
	cache *ttlcache.Cache[string, string]
}

func newSummaryCache() *summaryCache {
	c := ttlcache.New(ttlcache.WithDisableTouchOnHit[string, string]())
	go c.Start()
	return &summaryCache{cache: c}
}

func (c *summaryCache) Get(key string) (string, bool) {
	item := c.cache.Get(key)
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

// Set stores summary for ttl. A non-positive ttl stores nothing.
func (c *summaryCache) Set(key, summary string, ttl time.Duration) {
	if ttl <= 0 || summary == "" {
		return
	}
	c.cache.Set(key, summary, ttl)
}

func (c *summaryCache) Len() int {
	return c.cache.Len()
}

func (c *summaryCache) Stop() {
	c.cache.Stop()
}

// summaryKey digests everything the summarizer output depends on. Map keys
// are marshaled in sorted order, so equal trainsets hash equally.
func summaryKey(model string, batchSize int, trainset []signature.Example) (string, error) {
	data, err := json.Marshal(struct {
		Model     string              `json:"model"`
		BatchSize int                 `json:"batch_size"`
		Trainset  []signature.Example `json:"trainset"`
	}{model, batchSize, trainset})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
