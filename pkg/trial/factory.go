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

package trial

import (
	"context"
	"fmt"

	"github.com/kadirpekel/instruct/pkg/config"
)

// NewStoreFromConfig creates a trial store. A nil database config keeps
// trials in memory; otherwise the SQL store borrows a connection from pool
// so that every store on the same DSN shares it.
//
// Example config:
//
//	database:
//	  driver: sqlite
//	  database: ./.instruct/trials.db
func NewStoreFromConfig(ctx context.Context, dbCfg *config.DatabaseConfig, pool *config.DBPool, opts ...Option) (Store, error) {
	if dbCfg == nil {
		return NewMemoryStore(opts...), nil
	}
	if pool == nil {
		return nil, errNoPool
	}

	db, err := pool.Get(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	return NewSQLStore(ctx, db, dbCfg.Dialect(), dbCfg.TablePrefix, opts...)
}
